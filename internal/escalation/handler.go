package escalation

import (
	"net/http"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
)

// escalateResponse is the body returned to the tarpit's emitter.
type escalateResponse struct {
	Status      string           `json:"status"`
	ActionTaken bool             `json:"action_taken"`
	Score       core.ScoreReport `json:"score"`
}

// Handler accepts RequestMetadata posts and scores them synchronously. The
// caller (the tarpit emitter) already decoupled this from the client-facing
// response path, so the latency of the pipeline is acceptable here.
func (e *Engine) Handler(w http.ResponseWriter, r *http.Request) {
	var md core.RequestMetadata
	if !httpx.DecodeJSON(w, r, &md) {
		return
	}
	if md.ClientIdentity == "" {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, httpx.CodeInvalidRequest,
			"client_identity is required")
		return
	}

	res := e.Process(r.Context(), md)
	httpx.WriteJSON(w, http.StatusOK, escalateResponse{
		Status:      "processed",
		ActionTaken: res.ActionTaken,
		Score:       res.Report,
	})
}
