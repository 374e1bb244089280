package tenants

// Repo is the read side of the tenant table.
type Repo interface {
	Get(tenantID string) (*Tenant, error)
	GetByDomain(domain string) (*Tenant, error)
	List(offset, limit int) ([]*Tenant, error)
}
