package webhooks

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/gorilla/mux"
)

// DefaultMaxBodyBytes bounds a single webhook payload.
const DefaultMaxBodyBytes int64 = 10 << 20

// Handler routes provider callbacks to their processors:
//
//	POST /webhooks/{provider}
//	POST /webhooks/{provider}/{tenant}
//
// A tenant may also be passed as the tenant_id query parameter.
type Handler struct {
	mu           sync.RWMutex
	processors   map[string]*Processor
	maxBodyBytes int64
	logger       glog.Logger
}

type HandlerOption func(*Handler)

func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

func WithHandlerLogger(logger glog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		processors:   map[string]*Processor{},
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register binds a processor to a provider id. Provider ids are matched
// case-insensitively.
func (h *Handler) Register(provider string, processor *Processor) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return fmt.Errorf("webhooks: provider is required")
	}
	if processor == nil {
		return fmt.Errorf("webhooks: processor for %q is required", provider)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.processors[provider]; exists {
		return fmt.Errorf("webhooks: provider %q already registered", provider)
	}
	h.processors[provider] = processor
	return nil
}

func (h *Handler) Providers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.processors))
	for provider := range h.processors {
		out = append(out, provider)
	}
	return out
}

// Mount adds the webhook routes to router.
func (h *Handler) Mount(router *mux.Router) {
	router.HandleFunc("/webhooks/{provider}", h.serve).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{provider}/{tenant}", h.serve).Methods(http.MethodPost)
}

func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	h.Mount(router)
	return router
}

type response struct {
	Accepted bool           `json:"accepted"`
	Replies  int            `json:"replies"`
	Outcomes int            `json:"outcomes"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider := strings.ToLower(strings.TrimSpace(vars["provider"]))

	h.mu.RLock()
	processor := h.processors[provider]
	h.mu.RUnlock()
	if processor == nil {
		writeResponse(w, http.StatusNotFound, response{Error: "unknown provider"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeResponse(w, http.StatusRequestEntityTooLarge, response{Error: "payload too large"})
		return
	}

	tenantID := strings.TrimSpace(vars["tenant"])
	if tenantID == "" {
		tenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	}

	result, err := processor.Process(r.Context(), Request{
		Provider: provider,
		TenantID: tenantID,
		Headers:  flattenHeaders(r.Header),
		Body:     body,
		Metadata: map[string]any{"remote_addr": r.RemoteAddr},
	})
	status := result.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	out := response{
		Accepted: result.Accepted,
		Outcomes: len(result.Outcomes),
		Metadata: result.Metadata,
	}
	for _, outcome := range result.Outcomes {
		if outcome.Recorded {
			out.Replies++
		}
	}
	if err != nil {
		h.logger.Warn("webhook rejected", "provider", provider, "status", status, "error", err)
		// 5xx bodies stay generic.
		if status >= http.StatusInternalServerError {
			out.Error = http.StatusText(status)
		} else {
			out.Error = err.Error()
		}
	}
	writeResponse(w, status, out)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = values[0]
	}
	return out
}

func writeResponse(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
