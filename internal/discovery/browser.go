package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSResolver is the interface for mDNS service browsing.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse sends matching service entries to the channel until ctx is
	// done. Implementations may close entries when browsing ends.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production MDNSResolver. A zeroconf.Resolver
// shuts its sockets down when a browse ends, so one is created per call.
type zeroconfResolver struct{}

func (zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return r.Browse(ctx, service, domain, entries)
}

// BrowserConfig holds configuration for the Browser.
type BrowserConfig struct {
	// Service and Domain default to ServiceType and Domain.
	Service string
	Domain  string

	// NamePrefix, when set, ignores instances whose name does not start
	// with it.
	NamePrefix string

	// Resolver is the mDNS resolver to use.
	// If nil, the default zeroconf resolver is used.
	Resolver MDNSResolver

	// PruneInterval is how often expired entries are dropped (default 5s).
	PruneInterval time.Duration

	// RetryInterval is the initial delay before a failed browse is
	// retried (default 500ms, grows exponentially).
	RetryInterval time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

type browsedService struct {
	desc    ServiceDescriptor
	expires time.Time
}

// Browser maintains the live set of discovered services while enabled and
// pushes every change to its subscribers. Each subscriber only ever sees
// the latest set.
type Browser struct {
	config   BrowserConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
	errs     chan error

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	services map[string]browsedService
	subs     map[int]chan []ServiceDescriptor
	nextSub  int
	closed   bool
}

// NewBrowser creates a Browser. Nothing is browsed until Start.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Service == "" {
		config.Service = ServiceType
	}
	if config.Domain == "" {
		config.Domain = Domain
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = 5 * time.Second
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 500 * time.Millisecond
	}

	resolver := config.Resolver
	if resolver == nil {
		resolver = zeroconfResolver{}
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Browser{
		config:   config,
		resolver: resolver,
		log:      loggerFactory.NewLogger("browser"),
		errs:     make(chan error, 8),
		services: make(map[string]browsedService),
		subs:     make(map[int]chan []ServiceDescriptor),
	}
}

// Start enables discovery. Calling it while enabled is a no-op.
func (b *Browser) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		reportErr(b.errs, ErrClosed, b.log.Warnf)
		return
	}
	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
	b.log.Debugf("browsing for %s in %s", b.config.Service, b.config.Domain)
}

// Stop disables discovery and clears the service set. Subscribers are
// not notified of the clear. Calling it while disabled is a no-op.
func (b *Browser) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	if cancel != nil {
		cancel()
	}
	b.cancel, b.done = nil, nil
	b.services = make(map[string]browsedService)
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	<-done
	b.log.Debugf("stopped browsing for %s", b.config.Service)
}

// Enabled reports whether discovery is running.
func (b *Browser) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

// Services returns a snapshot of the current service set.
func (b *Browser) Services() []ServiceDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Subscribe returns a channel receiving the full service set on every
// change, and a function that cancels the subscription. A non-empty
// current set is delivered immediately.
func (b *Browser) Subscribe() (<-chan []ServiceDescriptor, func()) {
	ch := make(chan []ServiceDescriptor, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	if len(b.services) > 0 {
		ch <- b.snapshotLocked()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Errors returns the side channel carrying browse failures.
func (b *Browser) Errors() <-chan error {
	return b.errs
}

// Find browses once until ctx is done, reporting whether host:port is
// announced. The shared service set is consulted first and left untouched.
func (b *Browser) Find(ctx context.Context, host, port string) (bool, error) {
	b.mu.Lock()
	for _, s := range b.services {
		if s.desc.Host == host && s.desc.Port == port {
			b.mu.Unlock()
			return true, nil
		}
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := b.resolver.Browse(ctx, zeroconfService(b.config.Service), zeroconfDomain(b.config.Domain), entries); err != nil {
		return false, fmt.Errorf("browser: find %s:%s: %w", host, port, err)
	}

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case entry, ok := <-entries:
			if !ok {
				return false, nil
			}
			if entryMatches(entry, host, port) {
				return true, nil
			}
		}
	}
}

// Close stops discovery and ends every subscription.
func (b *Browser) Close() {
	b.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Browser) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.config.RetryInterval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	prune := time.NewTicker(b.config.PruneInterval)
	defer prune.Stop()

	for {
		entries := make(chan *zeroconf.ServiceEntry, 16)
		err := b.resolver.Browse(ctx, zeroconfService(b.config.Service), zeroconfDomain(b.config.Domain), entries)
		if err != nil {
			b.log.Warnf("mDNS browse failed: %v", err)
			reportErr(b.errs, fmt.Errorf("browser: %w", err), b.log.Warnf)
		} else if !b.consume(ctx, entries, prune.C, bo) {
			return
		}

		wait := bo.NextBackOff()
		b.log.Debugf("restarting mDNS browse in %s", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// consume reads entries until ctx is done (returns false) or the resolver
// closes the channel (returns true, the browse should restart).
func (b *Browser) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry, prune <-chan time.Time, bo backoff.BackOff) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case entry, ok := <-entries:
			if !ok {
				return ctx.Err() == nil
			}
			bo.Reset()
			b.handleEntry(ctx, entry)
		case <-prune:
			b.prune(ctx)
		}
	}
}

func (b *Browser) handleEntry(ctx context.Context, entry *zeroconf.ServiceEntry) {
	if entry == nil {
		return
	}
	if b.config.NamePrefix != "" && !strings.HasPrefix(entry.Instance, b.config.NamePrefix) {
		return
	}
	desc, ok := descriptorFromEntry(entry)
	if !ok {
		b.log.Debugf("ignoring entry %q without a usable address", entry.Instance)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	key := desc.Key()
	prev, known := b.services[key]

	if entry.TTL == 0 {
		if known {
			delete(b.services, key)
			b.log.Debugf("service removed: %s", key)
			b.publishLocked()
		}
		return
	}

	b.services[key] = browsedService{
		desc:    desc,
		expires: time.Now().Add(time.Duration(entry.TTL) * time.Second),
	}
	if !known || prev.desc != desc {
		b.log.Debugf("service found: %q at %s", desc.Name, key)
		b.publishLocked()
	}
}

func (b *Browser) prune(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	now := time.Now()
	changed := false
	for key, s := range b.services {
		if now.After(s.expires) {
			delete(b.services, key)
			changed = true
		}
	}
	if changed {
		b.publishLocked()
	}
}

// publishLocked replaces each subscriber's pending set with the current one.
func (b *Browser) publishLocked() {
	for _, ch := range b.subs {
		set := b.snapshotLocked()
		select {
		case <-ch:
		default:
		}
		ch <- set
	}
}

func (b *Browser) snapshotLocked() []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(b.services))
	for _, s := range b.services {
		out = append(out, s.desc)
	}
	sortDescriptors(out)
	return out
}

// descriptorFromEntry picks the entry's address, preferring IPv4.
func descriptorFromEntry(entry *zeroconf.ServiceEntry) (ServiceDescriptor, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return ServiceDescriptor{}, false
	}
	if entry.Port <= 0 {
		return ServiceDescriptor{}, false
	}
	return ServiceDescriptor{
		Name: entry.Instance,
		Host: host,
		Port: strconv.Itoa(entry.Port),
	}, true
}

// entryMatches reports whether any of the entry's addresses is host:port.
func entryMatches(entry *zeroconf.ServiceEntry, host, port string) bool {
	if entry == nil || strconv.Itoa(entry.Port) != port {
		return false
	}
	for _, ip := range entry.AddrIPv4 {
		if ip.String() == host {
			return true
		}
	}
	for _, ip := range entry.AddrIPv6 {
		if ip.String() == host {
			return true
		}
	}
	return strings.TrimSuffix(entry.HostName, ".") == strings.TrimSuffix(host, ".")
}
