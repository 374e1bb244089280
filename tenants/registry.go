package tenants

import (
	"fmt"
	"os"
	"sort"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/users"
	"gopkg.in/yaml.v3"
)

const defaultSessionTimeout = 8 * time.Hour

// File is the on-disk shape of the tenants file.
type File struct {
	Tenants []Tenant `yaml:"tenants"`
	// AuthorizedDomains is the login allow-list. When empty every tenant domain is allowed.
	AuthorizedDomains []string             `yaml:"authorized_domains"`
	GlobalAdmins      []string             `yaml:"global_admins"`
	LocalAccounts     []users.LocalAccount `yaml:"local_accounts"`
}

// DefaultFile is used when no tenants file is configured.
func DefaultFile() File {
	return File{
		Tenants: []Tenant{
			{
				ID:      "nextphaseit",
				Name:    "NextPhase IT",
				Domains: []string{"nextphaseit.org"},
				Branding: Branding{
					PrimaryColor: "#0f6cbd",
					LogoURL:      "/static/logo.svg",
					SupportEmail: "support@nextphaseit.org",
				},
				Features: Features{
					CustomThemes:  true,
					AdminOverride: true,
					PasswordReset: true,
				},
				SessionTimeout: defaultSessionTimeout,
				AdminEmails:    []string{"admin@nextphaseit.org"},
			},
		},
		AuthorizedDomains: []string{"nextphaseit.org"},
		GlobalAdmins:      []string{"admin@nextphaseit.org"},
	}
}

// Registry is the immutable tenant table loaded at startup.
type Registry struct {
	tenants           []*Tenant
	byID              map[string]*Tenant
	byDomain          map[string]*Tenant
	authorizedDomains map[string]struct{}
	globalAdmins      map[string]struct{}
	localAccounts     []users.LocalAccount
}

var _ Repo = (*Registry)(nil)

// LoadRegistry reads path, or returns the built-in defaults when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultFile())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[tenants.LoadRegistry] %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes a YAML tenants file.
func ParseRegistry(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("[tenants.ParseRegistry] %w", err)
	}
	return NewRegistry(f)
}

// NewRegistry validates f and indexes it. Tenant IDs and domains must be unique.
func NewRegistry(f File) (*Registry, error) {
	r := &Registry{
		byID:              make(map[string]*Tenant),
		byDomain:          make(map[string]*Tenant),
		authorizedDomains: make(map[string]struct{}),
		globalAdmins:      make(map[string]struct{}),
		localAccounts:     append([]users.LocalAccount(nil), f.LocalAccounts...),
	}

	for i := range f.Tenants {
		t := f.Tenants[i].Clone()
		t.normalise()
		if t.ID == "" {
			return nil, fmt.Errorf("[tenants.NewRegistry] tenant %d has no id", i)
		}
		if len(t.Domains) == 0 {
			return nil, fmt.Errorf("[tenants.NewRegistry] tenant %q has no domains", t.ID)
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("[tenants.NewRegistry] duplicate tenant id %q", t.ID)
		}
		if t.SessionTimeout <= 0 {
			t.SessionTimeout = defaultSessionTimeout
		}
		for _, d := range t.Domains {
			if other, dup := r.byDomain[d]; dup {
				return nil, fmt.Errorf("[tenants.NewRegistry] domain %q claimed by %q and %q", d, other.ID, t.ID)
			}
			r.byDomain[d] = t
		}
		r.byID[t.ID] = t
		r.tenants = append(r.tenants, t)
	}

	authorized := normaliseList(f.AuthorizedDomains)
	if len(authorized) == 0 {
		for d := range r.byDomain {
			authorized = append(authorized, d)
		}
	}
	for _, d := range authorized {
		r.authorizedDomains[d] = struct{}{}
	}
	for _, e := range normaliseList(f.GlobalAdmins) {
		r.globalAdmins[e] = struct{}{}
	}

	sort.Slice(r.tenants, func(i, j int) bool {
		return r.tenants[i].ID < r.tenants[j].ID
	})
	return r, nil
}

func (r *Registry) Get(tenantID string) (*Tenant, error) {
	t, ok := r.byID[tenantID]
	if !ok {
		return nil, fmt.Errorf("[Registry.Get] %q: %w", tenantID, apperrors.ErrTenantNotFound)
	}
	return t.Clone(), nil
}

func (r *Registry) GetByDomain(domain string) (*Tenant, error) {
	t, ok := r.byDomain[domain]
	if !ok {
		return nil, fmt.Errorf("[Registry.GetByDomain] %q: %w", domain, apperrors.ErrTenantNotFound)
	}
	return t.Clone(), nil
}

// List returns up to limit tenants ordered by ID, starting at offset.
func (r *Registry) List(offset, limit int) ([]*Tenant, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("[Registry.List] offset and limit must not be negative")
	}
	if offset >= len(r.tenants) {
		return []*Tenant{}, nil
	}
	end := len(r.tenants)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Tenant, 0, end-offset)
	for _, t := range r.tenants[offset:end] {
		out = append(out, t.Clone())
	}
	return out, nil
}

// Len returns the number of tenants.
func (r *Registry) Len() int {
	return len(r.tenants)
}

// LocalAccounts returns the local_accounts block of the tenants file.
func (r *Registry) LocalAccounts() []users.LocalAccount {
	return append([]users.LocalAccount(nil), r.localAccounts...)
}

func (r *Registry) isAuthorizedDomain(domain string) bool {
	_, ok := r.authorizedDomains[domain]
	return ok
}

func (r *Registry) isGlobalAdmin(email string) bool {
	_, ok := r.globalAdmins[email]
	return ok
}
