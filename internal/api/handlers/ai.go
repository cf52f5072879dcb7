package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Assistant answers patient questions. Implementations never fail; they
// return a fallback text instead.
type Assistant interface {
	ExplainPrescription(ctx context.Context, prescriptionText string) string
	CheckSymptoms(ctx context.Context, symptoms string) string
	HealthTip(ctx context.Context) string
}

// AIHandler serves the public AI helper routes.
type AIHandler struct {
	assistant Assistant
}

// NewAIHandler creates a new handler
func NewAIHandler(assistant Assistant) *AIHandler {
	return &AIHandler{assistant: assistant}
}

// Routes returns the handler routes
func (h *AIHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/explain-prescription", h.Explain)
	r.Post("/symptom-checker", h.Symptoms)
	r.Get("/health-tip", h.Tip)
	return r
}

// Explain handles POST /explain-prescription
func (h *AIHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrescriptionText string `json:"prescriptionText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return
	}
	ok(w, "", envelope{"explanation": h.assistant.ExplainPrescription(r.Context(), req.PrescriptionText)})
}

// Symptoms handles POST /symptom-checker
func (h *AIHandler) Symptoms(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symptoms string `json:"symptoms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, errBadBody.Error())
		return
	}
	ok(w, "", envelope{"suggestion": h.assistant.CheckSymptoms(r.Context(), req.Symptoms)})
}

// Tip handles GET /health-tip
func (h *AIHandler) Tip(w http.ResponseWriter, r *http.Request) {
	ok(w, "", envelope{"tip": h.assistant.HealthTip(r.Context())})
}
