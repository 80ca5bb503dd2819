package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/handlers"
	"github.com/sourceplane/fareflow/internal/links"
	"github.com/sourceplane/fareflow/internal/logging"
)

// EventValidator checks a raw event envelope before it is decoded
type EventValidator interface {
	ValidateEvent(data []byte) error
}

// Config wires the handlers into HTTP routes. Nil handlers leave their
// routes unregistered.
type Config struct {
	Approval   *handlers.Approval
	Dispatcher *events.Dispatcher
	Notify     events.Handler
	Deploy     events.Handler

	// Validator, when set, rejects event envelopes that do not match the schema
	Validator EventValidator
	Gatherer  prometheus.Gatherer
	Logger    *log.Logger
}

// Server is the HTTP surface of the approval workflow
type Server struct {
	echo *echo.Echo
	cfg  Config
}

// EventResponse is the body returned for every delivered event
type EventResponse struct {
	DetailType string                   `json:"detailType"`
	Results    map[string]events.Result `json:"results"`
	Error      string                   `json:"error,omitempty"`
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	logging.Attach(e, cfg.Logger)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		e.Logger.Error(err)
	}
	e.Use(logging.Requests)

	s := &Server{echo: e, cfg: cfg}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	if cfg.Approval != nil {
		for path, action := range map[string]string{"/approve": links.ActionApprove, "/reject": links.ActionReject} {
			e.GET(path, s.approval(action))
			e.POST(path, s.approval(action))
		}
	}

	if cfg.Dispatcher != nil {
		e.POST("/events", s.event(func(ctx context.Context, ev events.Event) (map[string]events.Result, error) {
			return cfg.Dispatcher.Dispatch(ctx, ev)
		}))
	}
	if cfg.Notify != nil {
		e.POST("/events/notify", s.event(single("notify", cfg.Notify)))
	}
	if cfg.Deploy != nil {
		e.POST("/events/deploy", s.event(single("deploy", cfg.Deploy)))
	}

	return s
}

// Handler exposes the routes for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

// approval serves the links sent to reviewers. The action defaults to the
// one implied by the path.
func (s *Server) approval(pathAction string) echo.HandlerFunc {
	return func(c echo.Context) error {
		action := c.QueryParam("action")
		if action == "" {
			action = pathAction
		}
		resp := s.cfg.Approval.Handle(c.Request().Context(), handlers.ApprovalRequest{
			ModelPackageARN: c.QueryParam("modelPackageArn"),
			Action:          action,
			Token:           c.QueryParam("token"),
		})
		return c.String(resp.StatusCode, resp.Body)
	}
}

type deliver func(ctx context.Context, ev events.Event) (map[string]events.Result, error)

func single(name string, h events.Handler) deliver {
	return func(ctx context.Context, ev events.Event) (map[string]events.Result, error) {
		res, err := h.Handle(ctx, ev)
		if err != nil {
			return map[string]events.Result{}, err
		}
		return map[string]events.Result{name: res}, nil
	}
}

func (s *Server) event(fn deliver) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "can not read request body").SetInternal(err)
		}

		if s.cfg.Validator != nil {
			if err := s.cfg.Validator.ValidateEvent(body); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
			}
		}

		ev, err := events.Decode(body)
		if errors.Is(err, errs.ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		} else if err != nil {
			return err
		}

		results, err := fn(c.Request().Context(), ev)
		resp := EventResponse{DetailType: ev.DetailType(), Results: results}
		if err != nil {
			resp.Error = err.Error()
			s.cfg.Logger.Errorj(log.JSON{"detailType": ev.DetailType(), "error": err.Error()})
			return c.JSON(http.StatusInternalServerError, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.cfg.Logger.Infoj(log.JSON{"listen": addr})
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		graceful, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(graceful)
	})

	return g.Wait()
}
