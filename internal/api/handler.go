package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/db"
	"github.com/nabd/blood-bot/internal/deeplink"
	"github.com/nabd/blood-bot/internal/models"
	"github.com/nabd/blood-bot/internal/notify"
	"github.com/nabd/blood-bot/internal/requests"
)

// AdminPinHeader carries the operator PIN on admin routes
const AdminPinHeader = "X-Admin-Pin"

// Service is the request lifecycle as seen by the HTTP layer.
type Service interface {
	Create(ctx context.Context, p requests.CreatePayload) (requests.CreateResult, error)
	List(ctx context.Context) []models.BloodRequest
	Get(ctx context.Context, id string) (models.BloodRequest, error)
	MarkSent(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)
	MarkFulfilled(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)
	Cancel(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)
	Actions(s models.RequestStatus) []models.Action
	ShareLink(ctx context.Context, r models.BloodRequest) string
	Config(ctx context.Context) models.AppConfig
	SaveConfig(ctx context.Context, cfg models.AppConfig) error
}

type Handler struct {
	svc      Service
	adminPIN string
	logger   *zap.Logger
}

func NewHandler(svc Service, adminPIN string, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, adminPIN: adminPIN, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type dispatchView struct {
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type createResponse struct {
	Request  models.BloodRequest `json:"request"`
	Dispatch *dispatchView       `json:"dispatch,omitempty"`
	DeepLink string              `json:"deepLink,omitempty"`
}

type requestView struct {
	models.BloodRequest
	Actions []models.Action `json:"actions"`
}

func (h *Handler) view(r models.BloodRequest) requestView {
	actions := h.svc.Actions(r.Status)
	if actions == nil {
		actions = []models.Action{}
	}
	return requestView{BloodRequest: r, Actions: actions}
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var p requests.CreatePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// the browser opens the returned link itself
	p.Opener = &deeplink.Link{}

	res, err := h.svc.Create(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := createResponse{Request: res.Request, DeepLink: res.DeepLink}
	if res.Dispatch != nil {
		out.Dispatch = &dispatchView{Success: res.Dispatch.Success, Attempts: res.Dispatch.Attempts}
		if res.Dispatch.Err != nil {
			out.Dispatch.Error = res.Dispatch.Err.Error()
		}
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	list := h.svc.List(r.Context())
	out := make([]requestView, 0, len(list))
	status := models.RequestStatus(r.URL.Query().Get("status"))
	for _, req := range list {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, h.view(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(req))
}

func (h *Handler) transition(fn func(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := h.load(w, r)
		if !ok {
			return
		}
		updated, err := fn(r.Context(), req)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.view(updated))
	}
}

func (h *Handler) ShareRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.svc.ShareLink(r.Context(), req)})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Config(r.Context()))
}

func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.AppConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid config body"})
		return
	}
	if err := h.svc.SaveConfig(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Config(r.Context()))
}

func (h *Handler) ListHospitals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Hospitals)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (models.BloodRequest, bool) {
	req, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return models.BloodRequest{}, false
	}
	return req, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *requests.ValidationError
	var derr *notify.DeliveryError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "request not found"})
	case errors.Is(err, notify.ErrNotConfigured):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "bot token or chat id is not configured"})
	case errors.Is(err, models.ErrForbiddenTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &derr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: derr.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RequirePIN rejects requests without the admin PIN. An empty pin disables
// the check.
func RequirePIN(pin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminPinHeader)
			if pin != "" && subtle.ConstantTimeCompare([]byte(got), []byte(pin)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "admin pin required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/requests", h.CreateRequest)
	r.Get("/hospitals", h.ListHospitals)

	r.Group(func(r chi.Router) {
		r.Use(RequirePIN(h.adminPIN))

		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)
		r.Post("/requests/{id}/send", h.transition(h.svc.MarkSent))
		r.Post("/requests/{id}/fulfill", h.transition(h.svc.MarkFulfilled))
		r.Post("/requests/{id}/cancel", h.transition(h.svc.Cancel))
		r.Get("/requests/{id}/share", h.ShareRequest)

		r.Get("/config", h.GetConfig)
		r.Put("/config", h.PutConfig)
	})
}

// NewRouter builds the full HTTP surface under /api.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	return r
}
