package discover

import (
	"time"

	"github.com/ndxnet/discv5/internal/mclock"
	"github.com/ndxnet/discv5/internal/metrics"
	"github.com/ndxnet/discv5/internal/xlog"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
)

// Default tunables matching typical discv5 deployments.
const (
	DefaultSessionTimeout       = 5 * time.Minute
	DefaultRequestTimeout       = 500 * time.Millisecond
	DefaultRequestRetries       = 3
	DefaultSessionSweepInterval = 30 * time.Second
)

// Config collects the Session Service's tunables and collaborators. Zero
// values for the duration/count fields are replaced by the defaults above
// in withDefaults.
type Config struct {
	SessionTimeout       time.Duration
	RequestTimeout       time.Duration
	RequestRetries       int
	SessionSweepInterval time.Duration

	Clock     mclock.Clock
	Log       xlog.Logger
	Metrics   *metrics.Collector
	Crypto    v5wire.Crypto
	StaticKey v5wire.StaticKey
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestRetries == 0 {
		c.RequestRetries = DefaultRequestRetries
	}
	if c.SessionSweepInterval == 0 {
		c.SessionSweepInterval = DefaultSessionSweepInterval
	}
	if c.Clock == nil {
		c.Clock = mclock.System{}
	}
	if c.Log == nil {
		c.Log = xlog.Nop()
	}
	if c.Crypto == nil {
		c.Crypto = v5wire.SessionCodec{}
	}
	return c
}
