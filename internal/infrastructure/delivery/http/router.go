package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"medialoader/internal/consts"
	"medialoader/internal/errs"
	"medialoader/internal/infrastructure/delivery/http/middleware"
	"medialoader/internal/infrastructure/delivery/http/request"
	"medialoader/internal/infrastructure/delivery/http/response"
	"medialoader/internal/observability"
	"medialoader/internal/service"
)

// OTPs is the one-time code handshake used by the web form.
type OTPs interface {
	Issue(ctx context.Context) (string, error)
	Validate(ctx context.Context, code string) error
	Status(ctx context.Context, code string) bool
}

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.Handler) http.Handler {
	for _, mw := range slices.Backward(c) {
		h = mw(h)
	}
	return h
}

type Router struct {
	*http.ServeMux
	log         *slog.Logger
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool

	apiKey         string
	handlerTimeout time.Duration
	svc            service.Downloader
	otps           OTPs
	metrics        *observability.Metrics
	gatherer       prometheus.Gatherer
}

// Options carries the router collaborators.
type Options struct {
	APIKey         string
	HandlerTimeout time.Duration
	Service        service.Downloader
	OTPs           OTPs
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
}

func New(log *slog.Logger, opt Options) *Router {
	if opt.HandlerTimeout <= 0 {
		opt.HandlerTimeout = consts.DefaultHandlerTimeout
	}

	r := &Router{
		ServeMux:       http.NewServeMux(),
		log:            log.With(slog.String("package", "httprouter")),
		apiKey:         opt.APIKey,
		handlerTimeout: opt.HandlerTimeout,
		svc:            opt.Service,
		otps:           opt.OTPs,
		metrics:        opt.Metrics,
		gatherer:       opt.Gatherer,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
		ServeMux:    r.ServeMux,
	}

	fn(subRouter)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	r.ServeMux.Handle(pattern, chain(r.routeChain).then(h))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	chain(r.globalChain).then(r.ServeMux).ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
	)

	if r.metrics != nil {
		r.Use(middleware.Metrics(r.metrics))
	}
}

func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesDownloads()
	r.SetRoutesAuth()
}

func (r *Router) SetRoutesHealthcheck() {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}

	r.HandleFunc("GET /v1/readyz", ok)
	r.HandleFunc("GET /v1/livez", ok)

	if r.gatherer != nil {
		r.Handle("GET /metrics", observability.Handler(r.gatherer))
	}
}

func (ro *Router) SetRoutesDownloads() {
	ro.Group(func(r *Router) {
		r.Use(middleware.APIKey(ro.apiKey))

		r.HandleFunc("POST /v1/downloads", ro.CreateDownload)
		r.HandleFunc("GET /v1/downloads", ro.ListDownloads)
		r.HandleFunc("GET /v1/downloads/{id}", ro.GetDownload)
		r.HandleFunc("DELETE /v1/downloads/{id}", ro.CancelDownload)
		r.HandleFunc("GET /v1/infos", ro.GetMediaInfo)
	})
}

func (ro *Router) SetRoutesAuth() {
	ro.HandleFunc("POST /v1/auth/otp", ro.IssueOTP)
	ro.HandleFunc("GET /v1/auth/status", ro.OTPStatus)

	ro.Group(func(r *Router) {
		r.Use(middleware.APIKey(ro.apiKey))

		r.HandleFunc("POST /v1/auth/validate", ro.ValidateOTP)
	})
}

func (ro *Router) CreateDownload(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "CreateDownload")
	ctx := r.Context()

	var in request.CreateDownload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	ctx, cancel := context.WithTimeout(ctx, ro.handlerTimeout)
	defer cancel()

	job, err := ro.svc.CreateDownload(ctx, in.URL)
	if err != nil {
		log.ErrorContext(ctx, consts.RespDownloadFail, slog.String("url", in.URL), slog.Any("error", err))
		writeProviderError(w, err)

		return
	}

	log.InfoContext(ctx, consts.RespDownloadStarted, slog.Any("job", job))

	response.Accepted(w, consts.RespDownloadStarted, job, nil)
}

func (ro *Router) ListDownloads(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ro.handlerTimeout)
	defer cancel()

	jobs := ro.svc.ListDownloads(ctx)
	ro.log.DebugContext(ctx, consts.RespDownloadsRetrieved, slog.Int("count", len(jobs)))

	response.OK(w, consts.RespDownloadsRetrieved, jobs, nil)
}

func (ro *Router) GetDownload(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "GetDownload")

	ctx, cancel := context.WithTimeout(r.Context(), ro.handlerTimeout)
	defer cancel()

	id := r.PathValue("id")

	job, err := ro.svc.GetDownload(ctx, id)
	if err != nil {
		log.DebugContext(ctx, consts.RespDownloadNotFound, slog.String("id", id))
		response.NotFound(w, consts.RespDownloadNotFound, err)

		return
	}

	response.OK(w, consts.RespDownloadRetrieved, job, nil)
}

func (ro *Router) CancelDownload(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "CancelDownload")

	ctx, cancel := context.WithTimeout(r.Context(), ro.handlerTimeout)
	defer cancel()

	id := r.PathValue("id")
	log.InfoContext(ctx, "cancelling download", slog.String("id", id))

	if err := ro.svc.CancelDownload(ctx, id); err != nil {
		response.NotFound(w, consts.RespDownloadNotFound, err)

		return
	}

	response.OK(w, consts.RespDownloadCancelled, response.Success{Success: true}, nil)
}

func (ro *Router) GetMediaInfo(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "GetMediaInfo")

	ctx, cancel := context.WithTimeout(r.Context(), ro.handlerTimeout)
	defer cancel()

	url := r.URL.Query().Get("url")
	if url == "" {
		log.ErrorContext(ctx, consts.RespQueryParamMissing)
		response.BadRequest(w, consts.RespQueryParamMissing, errs.ErrInvalidURL)

		return
	}

	info, err := ro.svc.GetMediaInfo(ctx, url)
	if err != nil {
		log.ErrorContext(ctx, "failed to get media info", slog.String("url", url), slog.Any("error", err))
		writeProviderError(w, err)

		return
	}

	response.OK(w, consts.RespMediaInfoRetrieved, info, nil)
}

func (ro *Router) IssueOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code, err := ro.otps.Issue(ctx)
	if err != nil {
		ro.log.ErrorContext(ctx, consts.RespOTPIssueFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespOTPIssueFail, nil, err)

		return
	}

	response.OK(w, consts.RespOTPIssued, response.OTP{OTP: code}, nil)
}

func (ro *Router) ValidateOTP(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ValidateOTP")
	ctx := r.Context()

	var in request.ValidateOTP
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := ro.otps.Validate(ctx, in.OTP); err != nil {
		log.WarnContext(ctx, "otp validation failed", slog.Any("error", err))
		response.NotFound(w, err.Error(), err)

		return
	}

	response.OK(w, consts.RespOTPValidated, response.Success{Success: true}, nil)
}

func (ro *Router) OTPStatus(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("otp")
	if code == "" {
		response.BadRequest(w, consts.RespQueryParamMissing, errs.ErrInvalidOTP)

		return
	}

	validated := ro.otps.Status(r.Context(), code)

	response.OK(w, consts.RespOTPStatus, response.OTPStatus{Validated: validated}, nil)
}

// writeProviderError maps service and provider sentinels to status codes.
func writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidURL):
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)
	case errors.Is(err, errs.ErrProviderNotFound):
		response.NotFound(w, consts.RespNoProvider, err)
	case errors.Is(err, errs.ErrAuthorization):
		response.Unauthorized(w, consts.RespProviderUnauthorized, err)
	case errors.Is(err, errs.ErrUpstreamProvider):
		response.BadGateway(w, consts.RespProviderError, err)
	default:
		response.InternalServerError(w, consts.RespDownloadFail, nil, err)
	}
}
