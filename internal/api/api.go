package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/deepmap/oapi-codegen/pkg/middleware"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/welthee/qcaller/internal/announce"
	"github.com/welthee/qcaller/internal/queue"
	"github.com/ziflex/lecho/v3"
)

const (
	ErrorCodeNotFound         = "not_found"
	ErrorCodeBadRequest       = "bad_request"
	ErrorCodeMethodNotAllowed = "method_not_allowed"
	ErrorCodeInternal         = "internal_error"
	ErrorCodeAnnouncementBusy = "announcement_busy"
	ErrorCodeNothingToCall    = "nothing_to_call"
	ErrorCodeTicketInService  = "ticket_in_service"
	ErrorCodeNoCurrentTicket  = "no_current_ticket"
)

const defaultAnnouncementsLimit = 20

// Scheduler is the queue the operator console drives.
type Scheduler interface {
	Issue(ctx context.Context) queue.Ticket
	CallNext(ctx context.Context) (queue.Ticket, error)
	Serve(ctx context.Context) (queue.Ticket, error)
	Skip(ctx context.Context) (queue.Ticket, error)
	Cancel(ctx context.Context) (queue.Ticket, error)
	Reset(ctx context.Context)
	UpdateSettings(ctx context.Context, prefix *string, retryLimit *int) (queue.Settings, error)
	Settings() queue.Settings
	Stats() queue.Stats
	Snapshot() queue.Snapshot
}

var _ Scheduler = (*queue.Scheduler)(nil)

type Handler struct {
	e         *echo.Echo
	port      int
	scheduler Scheduler
	journal   announce.Journal
}

// NewHandler wires middlewares and routes. journal may be nil, in which case
// the announcements endpoint answers 404.
func NewHandler(scheduler Scheduler, journal announce.Journal, port int) (*Handler, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := &Handler{
		e:         e,
		port:      port,
		scheduler: scheduler,
		journal:   journal,
	}

	e.HTTPErrorHandler = h.handleError
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())

	h.enableLoggingMiddleware()

	if err := h.enableOpenApiValidatorMiddleware(); err != nil {
		return nil, err
	}

	h.registerRoutes()

	return h, nil
}

func (h *Handler) registerRoutes() {
	h.e.POST("/tickets", h.IssueTicket)
	h.e.POST("/calls", h.CallNext)
	h.e.PUT("/current", h.ResolveCurrentTicket)
	h.e.GET("/queue", h.GetQueue)
	h.e.GET("/stats", h.GetStats)
	h.e.GET("/settings", h.GetSettings)
	h.e.PUT("/settings", h.UpdateSettings)
	h.e.POST("/reset", h.ResetQueue)
	h.e.GET("/announcements", h.GetAnnouncements)
}

func (h *Handler) IssueTicket(ctx echo.Context) error {
	t := h.scheduler.Issue(ctx.Request().Context())

	return ctx.JSON(http.StatusCreated, t)
}

func (h *Handler) CallNext(ctx echo.Context) error {
	t, err := h.scheduler.CallNext(ctx.Request().Context())
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrAnnouncementBusy):
			return ctx.JSON(http.StatusConflict, Error{
				Code:    ErrorCodeAnnouncementBusy,
				Message: err.Error(),
			})
		case errors.Is(err, queue.ErrNothingToCall):
			return ctx.JSON(http.StatusConflict, Error{
				Code:    ErrorCodeNothingToCall,
				Message: err.Error(),
			})
		case errors.Is(err, queue.ErrTicketInService):
			return ctx.JSON(http.StatusConflict, Error{
				Code:    ErrorCodeTicketInService,
				Message: err.Error(),
			})
		default:
			return err
		}
	}

	return ctx.JSON(http.StatusOK, t)
}

func (h *Handler) ResolveCurrentTicket(ctx echo.Context) error {
	req := &CurrentTicketUpdateRequest{}
	if err := ctx.Bind(req); err != nil {
		return err
	}

	rCtx := ctx.Request().Context()

	var t queue.Ticket
	var err error
	switch req.Action {
	case CurrentTicketActionServe:
		t, err = h.scheduler.Serve(rCtx)
	case CurrentTicketActionSkip:
		t, err = h.scheduler.Skip(rCtx)
	case CurrentTicketActionCancel:
		t, err = h.scheduler.Cancel(rCtx)
	default:
		return ctx.JSON(http.StatusBadRequest, Error{
			Code:    ErrorCodeBadRequest,
			Message: fmt.Sprintf("action must be one of:(%s,%s,%s)", CurrentTicketActionServe, CurrentTicketActionSkip, CurrentTicketActionCancel),
		})
	}
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNoCurrentTicket):
			return ctx.JSON(http.StatusConflict, Error{
				Code:    ErrorCodeNoCurrentTicket,
				Message: err.Error(),
			})
		default:
			return err
		}
	}

	return ctx.JSON(http.StatusOK, t)
}

func (h *Handler) GetQueue(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, newQueueState(h.scheduler.Snapshot()))
}

func (h *Handler) GetStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, h.scheduler.Stats())
}

func (h *Handler) GetSettings(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, newSettings(h.scheduler.Settings()))
}

func (h *Handler) UpdateSettings(ctx echo.Context) error {
	req := &SettingsUpdateRequest{}
	if err := ctx.Bind(req); err != nil {
		return err
	}

	settings, err := h.scheduler.UpdateSettings(ctx.Request().Context(), req.Prefix, req.RetryLimit)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrInvalidConfig):
			return ctx.JSON(http.StatusBadRequest, Error{
				Code:    ErrorCodeBadRequest,
				Message: err.Error(),
			})
		default:
			return err
		}
	}

	return ctx.JSON(http.StatusOK, newSettings(settings))
}

func (h *Handler) ResetQueue(ctx echo.Context) error {
	h.scheduler.Reset(ctx.Request().Context())

	return ctx.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAnnouncements(ctx echo.Context) error {
	if h.journal == nil {
		return ctx.JSON(http.StatusNotFound, Error{
			Code:    ErrorCodeNotFound,
			Message: "no announcement journal is configured",
		})
	}

	limit := defaultAnnouncementsLimit
	if err := echo.QueryParamsBinder(ctx).Int("limit", &limit).BindError(); err != nil {
		return ctx.JSON(http.StatusBadRequest, Error{
			Code:    ErrorCodeBadRequest,
			Message: err.Error(),
		})
	}

	announcements, err := h.journal.Recent(ctx.Request().Context(), limit)
	if err != nil {
		return err
	}
	if announcements == nil {
		announcements = []announce.Announcement{}
	}

	return ctx.JSON(http.StatusOK, AnnouncementList{Announcements: announcements})
}

// ServeHTTP lets the handler be driven without a listener.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.e.ServeHTTP(w, r)
}

func (h *Handler) Start() error {
	h.enablePrometheus()

	log.Info().Int("port", h.port).Msg("starting API")

	return h.e.Start(fmt.Sprintf(":%d", h.port))
}

func (h *Handler) Stop(ctx context.Context) error {
	err := h.e.Shutdown(ctx)
	if err != nil {
		return err
	}

	return nil
}

func (h *Handler) handleError(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := Error{
		Code:    ErrorCodeInternal,
		Message: http.StatusText(http.StatusInternalServerError),
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		body.Message = fmt.Sprint(he.Message)

		switch he.Code {
		case http.StatusBadRequest:
			body.Code = ErrorCodeBadRequest
		case http.StatusNotFound:
			body.Code = ErrorCodeNotFound
		case http.StatusMethodNotAllowed:
			body.Code = ErrorCodeMethodNotAllowed
		}
	} else {
		log.Ctx(ctx.Request().Context()).Error().Err(err).Msg("unhandled API error")
	}

	var writeErr error
	if ctx.Request().Method == http.MethodHead {
		writeErr = ctx.NoContent(status)
	} else {
		writeErr = ctx.JSON(status, body)
	}
	if writeErr != nil {
		log.Ctx(ctx.Request().Context()).Error().Err(writeErr).Msg("can not write error response")
	}
}

func (h *Handler) enablePrometheus() {
	p := prometheus.NewPrometheus("qcaller", nil)
	p.Use(h.e)
}

func (h *Handler) enableLoggingMiddleware() {
	logger := lecho.New(
		log.Logger,
		lecho.WithTimestamp(),
		lecho.WithCaller(),
		lecho.WithField("component", "api"),
	)

	h.e.Logger = logger

	re := regexp.MustCompile(`kube-probe|prometheus`)
	skipper := func(e echo.Context) bool {
		userAgent := e.Request().UserAgent()
		return re.MatchString(strings.ToLower(userAgent))
	}

	dumpConfig := echomiddleware.BodyDumpConfig{
		Skipper: skipper,
		Handler: func(c echo.Context, reqBody, resBody []byte) {
			log.Ctx(c.Request().Context()).Debug().
				Str("requestBody", string(reqBody)).
				Str("responseBody", string(resBody)).
				Msg("")
		},
	}

	lechoConfig := lecho.Config{
		Skipper:      skipper,
		Logger:       logger,
		RequestIDKey: "traceId",
	}

	h.e.Use(echomiddleware.BodyDumpWithConfig(dumpConfig))
	h.e.Use(lecho.Middleware(lechoConfig))
}

func (h *Handler) enableOpenApiValidatorMiddleware() error {
	swagger, err := GetSwagger()
	if err != nil {
		return err
	}
	h.e.Use(middleware.OapiRequestValidatorWithOptions(swagger, &middleware.Options{
		Skipper: func(e echo.Context) bool {
			return e.Request().URL.Path == "/metrics"
		},
	}))

	return nil
}
