package tenants

import (
	"fmt"
	"strings"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/users"
)

// AdminPolicy decides how a tenant's own admin list is honoured.
type AdminPolicy string

const (
	// AdminPolicyList grants admin to anyone on the tenant or global admin lists.
	AdminPolicyList AdminPolicy = "list"
	// AdminPolicyListAndOverride honours the tenant lists only when the tenant enables
	// Features.AdminOverride. Global admins are unaffected.
	AdminPolicyListAndOverride AdminPolicy = "list_and_override"
)

func ParseAdminPolicy(s string) (AdminPolicy, error) {
	switch p := AdminPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AdminPolicyList, nil
	case AdminPolicyList, AdminPolicyListAndOverride:
		return p, nil
	default:
		return "", fmt.Errorf("[tenants.ParseAdminPolicy] unknown admin policy %q", s)
	}
}

// Resolver answers tenancy and role questions for an email address. It is safe for
// concurrent use.
type Resolver struct {
	registry *Registry
	policy   AdminPolicy
}

func NewResolver(registry *Registry, policy AdminPolicy) *Resolver {
	if policy == "" {
		policy = AdminPolicyList
	}
	return &Resolver{registry: registry, policy: policy}
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}

func (r *Resolver) Policy() AdminPolicy {
	return r.policy
}

// TenantForEmail returns the tenant owning the email's domain. There is no fallback
// tenant: unknown domains are ErrTenantNotFound.
func (r *Resolver) TenantForEmail(email string) (*Tenant, error) {
	domain, ok := DomainOf(email)
	if !ok {
		return nil, fmt.Errorf("[Resolver.TenantForEmail] malformed email: %w", apperrors.ErrUnauthorizedDomain)
	}
	return r.registry.GetByDomain(domain)
}

// RoleForEmail returns RoleAdmin only for allow-listed addresses or admin domains.
func (r *Resolver) RoleForEmail(email string, tenant *Tenant) users.RoleType {
	email = strings.ToLower(strings.TrimSpace(email))
	if r.IsGlobalAdmin(email) {
		return users.RoleAdmin
	}
	if tenant == nil {
		return users.RoleUser
	}
	if r.policy == AdminPolicyListAndOverride && !tenant.Features.AdminOverride {
		return users.RoleUser
	}
	if containsFold(tenant.AdminEmails, email) {
		return users.RoleAdmin
	}
	if domain, ok := DomainOf(email); ok && containsFold(tenant.AdminDomains, domain) {
		return users.RoleAdmin
	}
	return users.RoleUser
}

// IsAuthorizedDomain checks the login allow-list. It is independent of tenant lookup.
func (r *Resolver) IsAuthorizedDomain(email string) bool {
	domain, ok := DomainOf(email)
	if !ok {
		return false
	}
	return r.registry.isAuthorizedDomain(domain)
}

func (r *Resolver) IsGlobalAdmin(email string) bool {
	return r.registry.isGlobalAdmin(strings.ToLower(strings.TrimSpace(email)))
}
