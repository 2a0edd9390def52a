package pool

import (
	"log/slog"

	"ip-rotator/pkg/ratelimit"
	"ip-rotator/pkg/router"
)

type options struct {
	client   router.Doer
	logger   *slog.Logger
	recorder Recorder
	limiter  *ratelimit.Limiter
}

// Option configures a Pool.
type Option func(*options)

// WithHTTPClient sets the client used to send routed requests.
// If the client has a CloseIdleConnections method, Close calls it.
func WithHTTPClient(client router.Doer) Option {
	return func(o *options) { o.client = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRecorder stores provisioned and deleted endpoints, for example in the
// endpoint ledger.
func WithRecorder(recorder Recorder) Option {
	return func(o *options) { o.recorder = recorder }
}

// WithLimiter paces control-plane calls per region.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}
