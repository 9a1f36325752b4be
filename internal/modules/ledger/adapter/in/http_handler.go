package in

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dwell/internal/modules/ledger/dto"
	ledgerin "dwell/internal/modules/ledger/port/in"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/httpapi"
)

type HTTPOptions struct {
	Usecase ledgerin.Usecase
	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string
	// RateLimit is requests per minute per user. Zero disables limiting.
	RateLimit  int
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     slog.Logger
}

type handler struct {
	usecase  ledgerin.Usecase
	requests *prometheus.CounterVec
	logger   slog.Logger
}

// NewHTTPHandler builds the ledger API router.
func NewHTTPHandler(opts HTTPOptions) (http.Handler, error) {
	h := &handler{
		usecase: opts.Usecase,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwell",
			Subsystem: "ledger",
			Name:      "http_requests_total",
			Help:      "Ledger API requests, by route and status code.",
		}, []string{"method", "route", "code"}),
		logger: opts.Logger.Named("http"),
	}
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(h.requests); err != nil {
			return nil, err
		}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		httpapi.Write(rw, http.StatusOK, httpapi.Response{Message: "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(h.instrument)
		r.Use(Authenticate(opts.Tokens))
		if opts.RateLimit > 0 {
			r.Use(httprate.Limit(
				opts.RateLimit,
				time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return UserID(r), nil }),
				httprate.WithLimitHandler(func(rw http.ResponseWriter, _ *http.Request) {
					httpapi.Write(rw, http.StatusTooManyRequests, httpapi.Response{
						Message: "rate limit exceeded, retry later",
						Code:    "rate_limited",
					})
				}),
			))
		}
		r.Put("/aggregates", h.putAggregate)
		r.Post("/sessions", h.postSession)
		// GET takes a user id, PATCH a session id. chi needs one param name
		// per segment.
		r.Get("/sessions/{id}", h.getSessions)
		r.Patch("/sessions/{id}", h.patchSession)
	})
	return r, nil
}

func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

func (h *handler) putAggregate(rw http.ResponseWriter, r *http.Request) {
	var req dto.AggregateRequest
	if !httpapi.Read(rw, r, &req) {
		return
	}
	userID := UserID(r)
	if !sameUser(rw, userID, req.UserID) {
		return
	}
	resp, err := h.usecase.UpsertAggregate(r.Context(), userID, req)
	if err != nil {
		h.writeError(rw, r, err)
		return
	}
	httpapi.Write(rw, http.StatusOK, resp)
}

func (h *handler) postSession(rw http.ResponseWriter, r *http.Request) {
	var req dto.SessionRequest
	if !httpapi.Read(rw, r, &req) {
		return
	}
	userID := UserID(r)
	if !sameUser(rw, userID, req.UserID) {
		return
	}
	created, isNew, err := h.usecase.CreateSession(r.Context(), userID, req)
	if err != nil {
		h.writeError(rw, r, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	httpapi.Write(rw, status, created)
}

func (h *handler) patchSession(rw http.ResponseWriter, r *http.Request) {
	var patch dto.SessionPatch
	if !httpapi.Read(rw, r, &patch) {
		return
	}
	if err := h.usecase.UpdateSession(r.Context(), UserID(r), chi.URLParam(r, "id"), patch); err != nil {
		h.writeError(rw, r, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (h *handler) getSessions(rw http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	if !sameUser(rw, userID, chi.URLParam(r, "id")) {
		return
	}
	query := r.URL.Query()
	q := ledgerin.DayQuery{LocalDate: query.Get("date")}
	if raw := query.Get("timezone"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{
				Message: "timezone must be an offset in minutes",
				Code:    apperrors.CodeValidationFailed,
				Errors:  []httpapi.Error{{Field: "timezone", Detail: err.Error()}},
			})
			return
		}
		q.OffsetMinutes = &offset
	}
	if raw := query.Get("useUserTimezone"); raw != "" {
		use, err := strconv.ParseBool(raw)
		if err != nil {
			httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{
				Message: "useUserTimezone must be a boolean",
				Code:    apperrors.CodeValidationFailed,
				Errors:  []httpapi.Error{{Field: "useUserTimezone", Detail: err.Error()}},
			})
			return
		}
		q.UseUserTimezone = use
	}
	day, err := h.usecase.SessionDay(r.Context(), userID, q)
	if err != nil {
		h.writeError(rw, r, err)
		return
	}
	httpapi.Write(rw, http.StatusOK, day)
}

func sameUser(rw http.ResponseWriter, authenticated, requested string) bool {
	if authenticated == requested {
		return true
	}
	httpapi.Write(rw, http.StatusForbidden, httpapi.Response{
		Message: "token does not belong to user " + requested,
		Code:    "forbidden",
	})
	return false
}

func (h *handler) writeError(rw http.ResponseWriter, r *http.Request, err error) {
	var validation *apperrors.ValidationError
	switch {
	case errors.As(err, &validation):
		status := validation.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		fields := make([]httpapi.Error, len(validation.Fields))
		for i, f := range validation.Fields {
			fields[i] = httpapi.Error{Field: f.Field, Detail: f.Detail}
		}
		httpapi.Write(rw, status, httpapi.Response{Message: validation.Message, Code: validation.Code, Errors: fields})
	case errors.Is(err, apperrors.ErrActiveSessionExists):
		httpapi.Write(rw, http.StatusConflict, httpapi.Response{Message: err.Error(), Code: apperrors.CodeActiveSessionExists})
	case errors.Is(err, apperrors.ErrInvalidSessionState):
		httpapi.Write(rw, http.StatusConflict, httpapi.Response{Message: err.Error(), Code: apperrors.CodeInvalidSessionState})
	case errors.Is(err, apperrors.ErrNotFound):
		httpapi.Write(rw, http.StatusNotFound, httpapi.Response{Message: err.Error(), Code: "not_found"})
	case errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrInvalidInterval),
		errors.Is(err, apperrors.ErrInvalidTimezoneOffset):
		httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{Message: err.Error(), Code: apperrors.CodeValidationFailed})
	default:
		h.logger.Error(r.Context(), "ledger request failed",
			slog.F("method", r.Method),
			slog.F("path", r.URL.Path),
			slog.Error(err),
		)
		httpapi.Write(rw, http.StatusInternalServerError, httpapi.Response{Message: "internal error"})
	}
}
