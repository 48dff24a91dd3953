package recognizer

import (
	"context"
	"errors"
)

// Router combines a local engine and a network engine into one recognizer.
// Requests forcing on-device recognition go to the local engine; all other
// requests go to the network engine, or to the local engine when no network
// engine is configured. Either engine may be nil.
type Router struct {
	local  Engine
	online Engine
}

// NewRouter creates a Router.
func NewRouter(local, online Engine) *Router {
	return &Router{local: local, online: online}
}

// Authorize implements Engine. Every configured engine must authorize.
func (r *Router) Authorize(ctx context.Context) error {
	for _, e := range r.engines() {
		if err := e.Authorize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Available implements Engine.
func (r *Router) Available() bool {
	for _, e := range r.engines() {
		if e.Available() {
			return true
		}
	}
	return false
}

// SupportsOnDevice implements Engine.
func (r *Router) SupportsOnDevice() bool {
	return r.local != nil && r.local.Available() && r.local.SupportsOnDevice()
}

// Start implements Engine.
func (r *Router) Start(ctx context.Context, req Request, handler Handler) (Task, error) {
	if req.ForceOnDevice {
		if !r.SupportsOnDevice() {
			return nil, errors.Join(ErrNoEngine, ErrOnDeviceUnsupported)
		}
		return r.local.Start(ctx, req, handler)
	}

	switch {
	case r.online != nil && r.online.Available():
		return r.online.Start(ctx, req, handler)
	case r.local != nil && r.local.Available():
		return r.local.Start(ctx, req, handler)
	default:
		return nil, ErrNoEngine
	}
}

func (r *Router) engines() []Engine {
	engines := make([]Engine, 0, 2)
	if r.local != nil {
		engines = append(engines, r.local)
	}
	if r.online != nil {
		engines = append(engines, r.online)
	}
	return engines
}

// Verify interface implementation at compile time.
var _ Engine = (*Router)(nil)
