// Package httpapi exposes breeding requests and dragon reads over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"dragonfarm/internal/blob"
	"dragonfarm/internal/breeding"
	"dragonfarm/internal/core"
	"dragonfarm/pkg/domain"
)

// Breeding is the coordinator surface used by the API.
type Breeding interface {
	Submit(ctx context.Context, sub breeding.Submission) (domain.BreedingRequest, error)
	Cancel(ctx context.Context, id string) (domain.BreedingRequest, error)
	Get(ctx context.Context, id string) (domain.BreedingRequest, error)
	List(ctx context.Context, statuses ...domain.RequestStatus) ([]domain.BreedingRequest, error)
}

// Farm is the read surface over dragons and traits.
type Farm interface {
	GetDragon(ctx context.Context, id string) (domain.DragonProfile, error)
	ListDragons(ctx context.Context) ([]domain.Dragon, error)
	Traits() []domain.Trait
}

// Handler routes API requests.
type Handler struct {
	farm     Farm
	breeding Breeding
	auth     *Authenticator
	certs    blob.Store
	logger   core.Logger
	metrics  http.Handler
	mux      *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger logs server-side failures.
func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCertificates serves archived hatch certificates from store.
func WithCertificates(store blob.Store) Option {
	return func(h *Handler) { h.certs = store }
}

// WithMetricsHandler serves h unauthenticated at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler wires the API routes. Every /api/v1 route requires a bearer token.
func NewHandler(farm Farm, b Breeding, auth *Authenticator, opts ...Option) *Handler {
	h := &Handler{farm: farm, breeding: b, auth: auth, logger: discardLogger{}, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}

	anyRole := []Role{RoleAdmin, RoleManager, RoleUser}
	operators := []Role{RoleAdmin, RoleManager}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/breeding-requests", requireRole(h.handleSubmit, operators...))
	api.HandleFunc("GET /api/v1/breeding-requests", requireRole(h.handleListRequests, anyRole...))
	api.HandleFunc("GET /api/v1/breeding-requests/{id}", requireRole(h.handleGetRequest, anyRole...))
	api.HandleFunc("DELETE /api/v1/breeding-requests/{id}", requireRole(h.handleCancel, operators...))
	api.HandleFunc("GET /api/v1/dragons", requireRole(h.handleListDragons, anyRole...))
	api.HandleFunc("GET /api/v1/dragons/{id}", requireRole(h.handleGetDragon, anyRole...))
	api.HandleFunc("GET /api/v1/traits", requireRole(h.handleTraits, anyRole...))
	if h.certs != nil {
		api.HandleFunc("GET /api/v1/dragons/{id}/certificate", requireRole(h.handleGetCertificate, anyRole...))
		api.HandleFunc("GET /api/v1/certificates", requireRole(h.handleListCertificates, anyRole...))
	}

	h.mux.Handle("/api/v1/", auth.authenticate(api))
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type submitRequest struct {
	ParentAID string `json:"parentAId"`
	ParentBID string `json:"parentBId"`
	Seed      *int64 `json:"seed,omitempty"`
	Name      string `json:"name,omitempty"`
}

// requestView is the wire form of a breeding request.
type requestView struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	ParentAID         string     `json:"parentAId"`
	ParentBID         string     `json:"parentBId"`
	OffspringName     string     `json:"offspringName,omitempty"`
	Seed              int64      `json:"seed"`
	RequestedAt       time.Time  `json:"requestedAt"`
	RequestedBy       string     `json:"requestedBy,omitempty"`
	OffspringDragonID string     `json:"offspringDragonId,omitempty"`
	FailureReason     string     `json:"failureReason,omitempty"`
	FailureDetail     string     `json:"failureDetail,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

func viewRequest(req domain.BreedingRequest) requestView {
	v := requestView{
		ID:            req.ID,
		Status:        string(req.Status),
		ParentAID:     req.ParentAID,
		ParentBID:     req.ParentBID,
		OffspringName: req.OffspringName,
		Seed:          req.Seed,
		RequestedAt:   req.RequestedAt,
		RequestedBy:   req.RequestedBy,
		FailureReason: string(req.FailureReason),
		FailureDetail: req.FailureDetail,
		CompletedAt:   req.CompletedAt,
	}
	if req.OffspringID != nil {
		v.OffspringDragonID = *req.OffspringID
	}
	return v
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid breeding request payload")
		return
	}
	if strings.TrimSpace(body.ParentAID) == "" || strings.TrimSpace(body.ParentBID) == "" {
		writeError(w, http.StatusBadRequest, "parentAId and parentBId are required")
		return
	}
	req, err := h.breeding.Submit(r.Context(), breeding.Submission{
		ParentAID:     body.ParentAID,
		ParentBID:     body.ParentBID,
		OffspringName: body.Name,
		Seed:          body.Seed,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/breeding-requests/"+req.ID)
	writeJSON(w, http.StatusAccepted, viewRequest(req))
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.breeding.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRequest(req))
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.RequestStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, domain.RequestStatus(strings.ToLower(s)))
			}
		}
	}
	reqs, err := h.breeding.List(r.Context(), statuses...)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	views := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, viewRequest(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, err := h.breeding.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRequest(req))
}

func (h *Handler) handleListDragons(w http.ResponseWriter, r *http.Request) {
	dragons, err := h.farm.ListDragons(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if dragons == nil {
		dragons = []domain.Dragon{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dragons": dragons})
}

func (h *Handler) handleGetDragon(w http.ResponseWriter, r *http.Request) {
	profile, err := h.farm.GetDragon(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// certificateView is the listing form of an archived certificate.
type certificateView struct {
	DragonID     string    `json:"dragonId"`
	RequestID    string    `json:"requestId,omitempty"`
	Key          string    `json:"key"`
	Size         int64     `json:"sizeBytes"`
	LastModified time.Time `json:"lastModified"`
}

func (h *Handler) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := breeding.LoadCertificate(r.Context(), h.certs, r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (h *Handler) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	infos, err := breeding.ListCertificates(r.Context(), h.certs)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	views := make([]certificateView, 0, len(infos))
	for _, info := range infos {
		views = append(views, certificateView{
			DragonID:     breeding.CertificateDragonID(info.Key),
			RequestID:    info.Metadata["request_id"],
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": views})
}

func (h *Handler) handleTraits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"traits": h.farm.Traits()})
}

// writeFailure maps service errors onto status codes.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	var notFound domain.DragonNotFoundError
	switch {
	case errors.Is(err, breeding.ErrRequestNotFound), errors.As(err, &notFound), errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, breeding.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, breeding.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, breeding.ErrQueueFull), errors.Is(err, breeding.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case domain.IsDataIntegrity(err):
		h.logger.Error("data integrity failure", "error", err)
		writeError(w, http.StatusInternalServerError, "data integrity failure")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
