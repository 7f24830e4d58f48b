package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/terraconstructs/gridsec/internal/security"
)

type subjectResponse struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Login   string `json:"login"`
	Address string `json:"address,omitempty"`
}

func subjectToResponse(subj security.Subject) subjectResponse {
	return subjectResponse{
		ID:      subj.ID.String(),
		Kind:    string(subj.Kind),
		Login:   subj.Login,
		Address: subj.Address,
	}
}

// HandleWhoAmI reports the authenticated subject active on the request.
func HandleWhoAmI(proc *security.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc := proc.SecurityContext(r.Context())
		writeJSON(w, http.StatusOK, subjectToResponse(sc.Subject()))
	}
}

// HandleSubjects lists every subject currently authenticated against the
// backend. Requires admin permissions.
func HandleSubjects(proc *security.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := proc.Authorize(r.Context(), "subjects", security.PermAdminOps); err != nil {
			status := http.StatusForbidden
			if !errors.Is(err, security.ErrAccessDenied) {
				status = http.StatusInternalServerError
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		subjects := proc.AuthenticatedSubjects()
		resp := make([]subjectResponse, 0, len(subjects))
		for _, subj := range subjects {
			resp = append(resp, subjectToResponse(subj))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
