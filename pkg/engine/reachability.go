package engine

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-ping/ping"
	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
)

// ClassifierConfig holds configuration for reachability classification.
type ClassifierConfig struct {
	// PingTimeout bounds the single connectivity check per target.
	PingTimeout time.Duration

	// Privileged requests raw-socket ICMP; falls back to UDP ping otherwise.
	Privileged bool

	// FallbackPorts are TCP ports tried, in order, when ICMP yields nothing
	// (filtered networks commonly drop echo but answer the directory ports).
	FallbackPorts []int
}

// DefaultClassifierConfig returns the classifier defaults: a short timeout so
// a dead host costs seconds, not the cascading multi-second timeouts a dozen
// subsequent probes would otherwise each pay.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		PingTimeout:   3 * time.Second,
		Privileged:    false,
		FallbackPorts: []int{389, 135},
	}
}

// pinger is the subset of the ping library the classifier uses.
type pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics
	SetPrivileged(bool)
	SetCount(int)
	SetTimeout(time.Duration)
}

type pingerFactoryFunc func(host string) (pinger, error)

// Classifier determines, per target, whether it is the local host, remotely
// online, or unreachable. Classification is computed once per target at the
// start of its probe sequence; under unchanged network conditions repeated
// classification yields the same state.
type Classifier struct {
	cfg           ClassifierConfig
	pingerFactory pingerFactoryFunc
	dial          func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewClassifier creates a Classifier with the real ping and dial backends.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultClassifierConfig().PingTimeout
	}
	d := &net.Dialer{}
	return &Classifier{
		cfg: cfg,
		pingerFactory: func(host string) (pinger, error) {
			p, err := ping.NewPinger(host)
			if err != nil {
				return nil, err
			}
			return &realPingerAdapter{p: p}, nil
		},
		dial: d.DialContext,
	}
}

// Classify determines the reachability of one target. The local-alias check
// comes first and skips all network probing; otherwise a single bounded
// connectivity check decides Online versus Unreachable. The check itself is a
// blocking call, so it runs under the bounded executor: the caller resumes
// within the timeout no matter what the network stack does.
func (c *Classifier) Classify(ctx context.Context, target Target) Reachability {
	logger := log.With().Str("component", "classifier").Str("target", target.Host).Logger()

	if target.IsLocal() {
		logger.Debug().Msg("Target is the auditing host; skipping connectivity probing")
		return ReachLocal
	}

	res := bounded.RunCtx(ctx, c.cfg.PingTimeout+500*time.Millisecond, func() (bool, error) {
		return c.connectivityCheck(ctx, target.Host), nil
	})

	if res.Outcome == bounded.Completed && res.Value {
		logger.Debug().Dur("elapsed", res.Elapsed).Msg("Target is online")
		return ReachOnline
	}
	logger.Debug().Str("outcome", res.Outcome.String()).Msg("Target is unreachable")
	return ReachUnreachable
}

// connectivityCheck pings once, then tries the fallback TCP ports. It reports
// true as soon as anything on the host answers.
func (c *Classifier) connectivityCheck(ctx context.Context, host string) bool {
	if p, err := c.pingerFactory(host); err == nil {
		p.SetPrivileged(c.cfg.Privileged)
		p.SetCount(1)
		p.SetTimeout(c.cfg.PingTimeout)

		stopCtx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
		go func() {
			<-stopCtx.Done()
			p.Stop()
		}()
		err = p.Run()
		cancel()
		if stats := p.Statistics(); err == nil && stats != nil && stats.PacketsRecv > 0 {
			return true
		}
	}

	for _, port := range c.cfg.FallbackPorts {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
		conn, err := c.dial(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		cancel()
		if err == nil {
			_ = conn.Close()
			return true
		}
	}
	return false
}

// realPingerAdapter wraps github.com/go-ping/ping.Pinger to implement the
// classifier's pinger interface.
type realPingerAdapter struct {
	p *ping.Pinger
}

func (r *realPingerAdapter) Run() error                   { return r.p.Run() }
func (r *realPingerAdapter) Stop()                        { r.p.Stop() }
func (r *realPingerAdapter) Statistics() *ping.Statistics { return r.p.Statistics() }
func (r *realPingerAdapter) SetPrivileged(v bool)         { r.p.SetPrivileged(v) }
func (r *realPingerAdapter) SetCount(c int)               { r.p.Count = c }
func (r *realPingerAdapter) SetTimeout(t time.Duration)   { r.p.Timeout = t }
