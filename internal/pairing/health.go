package pairing

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/1ureka/babymonitor/internal/util"
)

// Connectivity is the health checker's view of the paired device.
type Connectivity int

const (
	ConnectivityUnknown Connectivity = iota
	ConnectivityReachable
	ConnectivityUnreachable
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityUnknown:
		return "unknown"
	case ConnectivityReachable:
		return "reachable"
	case ConnectivityUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("Connectivity(%d)", int(c))
	}
}

// URLSource yields the paired signaling URL, empty when nothing is paired.
type URLSource interface {
	ServerURL() string
}

// HealthConfig configures a HealthChecker.
type HealthConfig struct {
	Finder Finder
	Source URLSource

	// Interval between probes (default 10s).
	Interval time.Duration

	// ProbeTimeout bounds one discovery probe (default 3s).
	ProbeTimeout time.Duration
}

// HealthChecker periodically looks for the paired endpoint in discovery.
type HealthChecker struct {
	config HealthConfig

	mu       sync.Mutex
	state    Connectivity
	handlers []func(Connectivity)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHealthChecker creates a stopped checker in ConnectivityUnknown.
func NewHealthChecker(config HealthConfig) *HealthChecker {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 3 * time.Second
	}
	return &HealthChecker{config: config}
}

// Start begins probing in the background, first probe immediately.
// Calling it while running is a no-op.
func (h *HealthChecker) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx, h.done)
}

// Stop halts probing and waits for an in-flight probe to end.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connectivity returns the latest probe outcome.
func (h *HealthChecker) Connectivity() Connectivity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// OnChange registers fn, called from the checker's goroutine whenever the
// connectivity changes.
func (h *HealthChecker) OnChange(fn func(Connectivity)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, fn)
}

func (h *HealthChecker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		c := h.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		h.set(c)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe never fails: anything that keeps the endpoint from being found
// counts as unreachable.
func (h *HealthChecker) probe(ctx context.Context) Connectivity {
	raw := ""
	if h.config.Source != nil {
		raw = h.config.Source.ServerURL()
	}
	if raw == "" {
		return ConnectivityUnknown
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || u.Port() == "" {
		util.LogDebug("health: unusable server url %q", raw)
		return ConnectivityUnreachable
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.ProbeTimeout)
	defer cancel()

	found, err := h.config.Finder.Find(ctx, u.Hostname(), u.Port())
	if err != nil {
		util.LogDebug("health: probe %s: %v", u.Host, err)
		return ConnectivityUnreachable
	}
	if !found {
		return ConnectivityUnreachable
	}
	return ConnectivityReachable
}

func (h *HealthChecker) set(c Connectivity) {
	h.mu.Lock()
	if h.state == c {
		h.mu.Unlock()
		return
	}
	h.state = c
	handlers := append([]func(Connectivity){}, h.handlers...)
	h.mu.Unlock()

	util.LogDebug("health: paired device %s", c)
	for _, fn := range handlers {
		fn(c)
	}
}
