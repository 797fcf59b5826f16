// Package dispatch routes verified gateway events to typed handlers and
// applies them to billing state.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
)

// Handler applies one event kind.
type Handler interface {
	Kind() event.Kind
	Handle(ctx context.Context, evt *event.Inbound) Result
}

// HandlerFunc adapts a function to Handler for a fixed kind.
type HandlerFunc struct {
	EventKind event.Kind
	Fn        func(ctx context.Context, evt *event.Inbound) Result
}

func (h HandlerFunc) Kind() event.Kind { return h.EventKind }

func (h HandlerFunc) Handle(ctx context.Context, evt *event.Inbound) Result {
	return h.Fn(ctx, evt)
}

// Registry maps event kinds to handlers. It is immutable after construction.
type Registry struct {
	handlers map[event.Kind]Handler
}

// NewRegistry builds a registry and checks it against event.SupportedKinds:
// every supported kind needs exactly one handler, and no handler may claim a
// kind outside that list.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	supported := make(map[event.Kind]bool)
	for _, k := range event.SupportedKinds() {
		supported[k] = true
	}

	m := make(map[event.Kind]Handler, len(handlers))
	for _, h := range handlers {
		k := h.Kind()
		if !supported[k] {
			return nil, fmt.Errorf("handler registered for unsupported kind %q", k)
		}
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("duplicate handler for kind %q", k)
		}
		m[k] = h
	}

	for k := range supported {
		if _, ok := m[k]; !ok {
			return nil, fmt.Errorf("no handler registered for kind %q", k)
		}
	}
	return &Registry{handlers: m}, nil
}

// Dispatch routes evt to its handler. Unmapped kinds fail as unsupported,
// which is never retried.
func (r *Registry) Dispatch(ctx context.Context, evt *event.Inbound) Result {
	h, ok := r.handlers[evt.Kind]
	if !ok {
		return Failed(FailureUnsupportedKind, domainErrors.NewDomainError(
			"unsupported_event_kind",
			"no handler for "+string(evt.Kind),
			domainErrors.ErrUnsupportedEventKind,
		))
	}
	return h.Handle(ctx, evt)
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []event.Kind {
	kinds := make([]event.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
