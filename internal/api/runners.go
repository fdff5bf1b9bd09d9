package api

import "net/http"

func (s *Server) handleListRunners(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sched.Registry().List())
}
