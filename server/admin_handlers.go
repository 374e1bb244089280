package server

import (
	"net/http"
	"strconv"

	"github.com/nextphaseit/portal-identity/tenants"
)

const defaultTenantPageSize = 50

type tenantsPage struct {
	Tenants     []*tenants.Tenant   `json:"tenants"`
	Total       int                 `json:"total"`
	Offset      int                 `json:"offset"`
	Limit       int                 `json:"limit"`
	AdminPolicy tenants.AdminPolicy `json:"admin_policy"`
}

// AdminTenantsListHandler lists the configured organizations. Admin lists are never
// included in the response.
func (s *Server) AdminTenantsListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "offset must be a non-negative integer."})
			return
		}
		limit, err := queryInt(r, "limit", defaultTenantPageSize)
		if err != nil || limit == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "limit must be a positive integer."})
			return
		}

		resolver := s.sessions.Resolver()
		list, err := resolver.Registry().List(offset, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tenantsPage{
			Tenants:     list,
			Total:       resolver.Registry().Len(),
			Offset:      offset,
			Limit:       limit,
			AdminPolicy: resolver.Policy(),
		})
	}
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
