// Package hook defines the maintenance action callback fired when a window
// starts or ends, and a few built-in implementations.
//
// Hooks are best-effort side effects: the engine commits the status change
// first, invokes the hook with a bounded timeout, and logs failures without
// rolling anything back.
package hook

import (
	"context"

	"maintd/internal/store"
	"maintd/pkg/logx"
)

type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// Hook is the capability interface the engine invokes on every transition,
// at most once per transition.
type Hook interface {
	OnTransition(ctx context.Context, server store.Server, phase Phase) error
}

// Func adapts a plain function to a Hook.
type Func func(ctx context.Context, server store.Server, phase Phase) error

func (f Func) OnTransition(ctx context.Context, server store.Server, phase Phase) error {
	return f(ctx, server, phase)
}

// Multi fans a transition out to several hooks. Every hook runs even when
// earlier ones fail; the first error is returned for logging.
type Multi []Hook

func (m Multi) OnTransition(ctx context.Context, server store.Server, phase Phase) error {
	var first error
	for _, h := range m {
		if h == nil {
			continue
		}
		if err := h.OnTransition(ctx, server, phase); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogHook emits one structured log line per transition. It is always
// installed so transitions stay observable even with no external hook
// configured.
type LogHook struct {
	Log logx.Logger
}

func (h LogHook) OnTransition(_ context.Context, server store.Server, phase Phase) error {
	h.Log.Info("maintenance transition",
		logx.Int64("server_id", server.ID),
		logx.String("server", server.Name),
		logx.String("phase", string(phase)),
		logx.String("server_status", string(server.Status)),
	)
	return nil
}
