package reliudp

import (
	"github.com/netshard/reliudp/internal/randsrc"
	"github.com/netshard/reliudp/pkg/logger"
)

// options collects the operational knobs a Client/Server construction
// accepts. The protocol constants (TICK, SEND_TIMEOUT, GROUP_TIMEOUT,
// handshake timeouts/retries, window/ring sizes) are not configurable here;
// they live as package constants in internal/proto so two peers built from
// this module always agree on them.
type options struct {
	rand        RandSource
	logger      *logger.Logger
	eventBuffer int
	maxEvents   int
}

func defaultOptions() options {
	return options{
		rand:        randsrc.New(),
		logger:      logger.New(),
		eventBuffer: 256,
		maxEvents:   64,
	}
}

// Option configures a Client or Server at construction time.
type Option func(*options)

// RandSource is the external random-number collaborator behind handshake
// salt generation; satisfied by internal/randsrc.Crypto in production and by
// a deterministic stub in tests.
type RandSource interface {
	Uint64() uint64
}

// WithRandSource overrides the random source used to generate handshake
// salts. Production code should never need this; it exists for
// deterministic tests of the handshake retry/anti-spoof paths.
func WithRandSource(r RandSource) Option {
	return func(o *options) { o.rand = r }
}

// WithLogger overrides the logger a Client/Server uses for warnings about
// dropped malformed datagrams and lifecycle transitions.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEventBufferHint records an initial-capacity hint for the internal
// event queue. The event queues are created empty and grow without bound as
// needed; the hint does not change how they allocate.
func WithEventBufferHint(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithMaxEventsPerTick bounds how many socket events a single internal
// Process iteration drains before yielding back to the tick loop.
func WithMaxEventsPerTick(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}
