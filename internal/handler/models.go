package handler

import (
	"encoding/json"
	"net/http"
)

type modelResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelsListResponse struct {
	Object string          `json:"object"`
	Data   []modelResponse `json:"data"`
}

// supportedModels are the Canvas adapter names the relay accepts directly.
// mapModel also folds common aliases onto these.
var supportedModels = []string{
	"canvas-agent",
	"canvas-agent-thinking",
	"canvas-chat",
}

func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, "invalid_request_error", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := make([]modelResponse, 0, len(supportedModels))
	for _, id := range supportedModels {
		data = append(data, modelResponse{
			ID:      id,
			Object:  "model",
			Created: 1700000000,
			OwnedBy: "canvas",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(modelsListResponse{Object: "list", Data: data}); err != nil {
		h.writeErrorResponse(w, "api_error", "Failed to encode response", http.StatusInternalServerError)
	}
}
