package approval

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxBodyBytes = 64 * 1024

// Handler exposes the gateway to remote operators over HTTP.
//
//	GET  /approvals               pending requests
//	GET  /approvals/{id}          one request
//	POST /approvals/{id}/approve
//	POST /approvals/{id}/reject   body: {"feedback": "..."} (optional)
//	POST /approve/{id}, /reject/{id}  short forms
type Handler struct {
	gw     *Gateway
	apiKey string
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler builds the HTTP surface. A non-empty apiKey requires a
// matching bearer token on every request.
func NewHandler(gw *Gateway, apiKey string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{gw: gw, apiKey: apiKey, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /approvals", h.list)
	h.mux.HandleFunc("GET /approvals/{id}", h.get)
	h.mux.HandleFunc("POST /approvals/{id}/approve", h.approve)
	h.mux.HandleFunc("POST /approvals/{id}/reject", h.reject)
	h.mux.HandleFunc("POST /approve/{id}", h.approve)
	h.mux.HandleFunc("POST /reject/{id}", h.reject)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.apiKey != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gw.ListPending())
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.gw.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r.PathValue("id"), StatusApproved, "")
}

type rejectBody struct {
	Feedback string `json:"feedback"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	h.resolve(w, r.PathValue("id"), StatusRejected, body.Feedback)
}

func (h *Handler) resolve(w http.ResponseWriter, id string, status Status, feedback string) {
	if err := h.gw.Resolve(id, status, feedback); err != nil {
		if errors.Is(err, ErrUnknownRequest) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		h.logger.Error("resolving approval", "id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
