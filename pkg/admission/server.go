package admission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	admissionv1 "k8s.io/api/admission/v1"

	"github.com/sse-secure-systems/connaisseur/pkg/logging"
)

// Server exposes Handler over the plain HTTP surface spec.md section 6
// requires: POST /mutate, GET /health, GET /ready, grounded on
// original_source/connaisseur/flask_server.py's route table.
type Server struct {
	Handler       *Handler
	ReadyCheckers []func(context.Context) bool
}

// Mux builds the http.ServeMux the webhook listens on.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/mutate", s.mutate)
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/ready", s.ready)
	return mux
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil {
		logging.FromContext(ctx).Errorw("malformed admission review", "err", err)
		http.Error(w, "malformed admission review", http.StatusBadRequest)
		return
	}

	result := s.Handler.Handle(ctx, review)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logging.FromContext(ctx).Errorw("failed to encode admission response", "err", err)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ready reports 200 only if every registered readiness checker (e.g.
// each configured validator's Healthy) currently succeeds, mirroring
// flask_server.py's readyz combining notary health with the
// webhook/sentinel installation checks.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for _, check := range s.ReadyCheckers {
		if !check(ctx) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
