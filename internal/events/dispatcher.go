package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/model"
)

// Result is what a handler reports back to the event bus
type Result struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

var ResultIgnored = Result{Status: "ignored"}

// Handler reacts to one event. Handlers must tolerate redelivery.
type Handler interface {
	Handle(ctx context.Context, ev Event) (Result, error)
}

type HandlerFunc func(ctx context.Context, ev Event) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) (Result, error) {
	return f(ctx, ev)
}

// Route delivers the events Match accepts to Handler
type Route struct {
	Name    string
	Match   func(Event) bool
	Handler Handler
}

// AnyEvent matches every event
func AnyEvent(Event) bool { return true }

// ApprovedPackages matches package state changes into Approved
func ApprovedPackages(ev Event) bool {
	pkg, ok := ev.(ModelPackageStateChange)
	return ok && pkg.ApprovalStatus == model.Approved
}

// Dispatcher fans an event out to every matching route, the way bus rules do
type Dispatcher struct {
	routes []Route
	logger *log.Logger
}

func NewDispatcher(logger *log.Logger, routes ...Route) *Dispatcher {
	return &Dispatcher{routes: routes, logger: logger}
}

// Dispatch runs every matching route, even after one fails. Results are keyed
// by route name.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (map[string]Result, error) {
	results := make(map[string]Result, len(d.routes))
	var errs []error
	for _, route := range d.routes {
		if route.Match != nil && !route.Match(ev) {
			continue
		}
		res, err := route.Handler.Handle(ctx, ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", route.Name, err))
			if d.logger != nil {
				d.logger.Errorj(log.JSON{"route": route.Name, "detailType": ev.DetailType(), "error": err.Error()})
			}
			continue
		}
		results[route.Name] = res
		if d.logger != nil {
			d.logger.Infoj(log.JSON{"route": route.Name, "detailType": ev.DetailType(), "status": res.Status})
		}
	}
	return results, errors.Join(errs...)
}

// Emit satisfies the engine's event sink
func (d *Dispatcher) Emit(ctx context.Context, ev Event) error {
	_, err := d.Dispatch(ctx, ev)
	return err
}
