package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidPayload    = errors.New("invalid payload")
)

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *clientConn, frame []byte) error

// Router keeps a map[type]handler, à‑la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
	validate *validator.Validate
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]rawHandler),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register binds an event type to a strongly‑typed handler. The whole frame
// is decoded into Req, so payload fields live beside "type".
func Register[Req any](
	r *Router,
	event string,
	h func(ctx context.Context, c *clientConn, req Req) error,
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *clientConn, frame []byte) error {
		var req Req
		if err := json.Unmarshal(frame, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if err := r.validate.Struct(req); err != nil {
			var inv *validator.InvalidValidationError
			if !errors.As(err, &inv) { // non-struct payloads have nothing to check
				return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop. It returns the event type
// so the caller can label logs and metrics even on failure.
func (r *Router) dispatch(ctx context.Context, c *clientConn, frame []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return "", ErrMalformedEnvelope
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return env.Type, ErrUnknownEvent
	}
	return env.Type, h(ctx, c, frame)
}
