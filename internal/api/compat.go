package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleCompatLookup resolves one feature key, the same way a scan does.
func (s *Server) handleCompatLookup(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "feature"))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "feature is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.resolver.Lookup(key))
}
