// Package tenants maps email domains onto organizations and derives portal roles from
// explicit allow-lists.
package tenants

import (
	"strings"
	"time"
)

// Branding is the per-organization look of the portal.
type Branding struct {
	PrimaryColor string `yaml:"primary_color" json:"primary_color"`
	LogoURL      string `yaml:"logo_url" json:"logo_url"`
	SupportEmail string `yaml:"support_email" json:"support_email"`
}

// Features toggles per-organization behaviour.
type Features struct {
	RequireTwoFactor bool `yaml:"require_two_factor" json:"require_two_factor"`
	CustomThemes     bool `yaml:"custom_themes" json:"custom_themes"`
	AdminOverride    bool `yaml:"admin_override" json:"admin_override"`
	PasswordReset    bool `yaml:"password_reset" json:"password_reset"`
}

// Tenant is an organization keyed by one or more email domains.
type Tenant struct {
	ID             string        `yaml:"id" json:"id"`
	Name           string        `yaml:"name" json:"name"`
	Domains        []string      `yaml:"domains" json:"domains"`
	Branding       Branding      `yaml:"branding" json:"branding"`
	Features       Features      `yaml:"features" json:"features"`
	SessionTimeout time.Duration `yaml:"session_timeout" json:"session_timeout"`
	AdminEmails    []string      `yaml:"admin_emails" json:"-"`
	AdminDomains   []string      `yaml:"admin_domains" json:"-"`
}

// Clone returns a deep copy.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	c.Domains = append([]string(nil), t.Domains...)
	c.AdminEmails = append([]string(nil), t.AdminEmails...)
	c.AdminDomains = append([]string(nil), t.AdminDomains...)
	return &c
}

// HasDomain reports whether domain belongs to the tenant.
func (t *Tenant) HasDomain(domain string) bool {
	return containsFold(t.Domains, domain)
}

func (t *Tenant) normalise() {
	t.ID = strings.TrimSpace(t.ID)
	t.Domains = normaliseList(t.Domains)
	t.AdminEmails = normaliseList(t.AdminEmails)
	t.AdminDomains = normaliseList(t.AdminDomains)
}

func normaliseList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsFold(values []string, v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// DomainOf returns the lowercased domain after the last "@". ok is false for values
// that are not shaped like an email address.
func DomainOf(email string) (domain string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", false
	}
	domain = email[at+1:]
	if strings.ContainsAny(domain, " \t/\\") || !strings.Contains(domain, ".") {
		return "", false
	}
	return domain, true
}
