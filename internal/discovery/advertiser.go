package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Name is the human-readable instance name (default ServiceName).
	Name string

	// Service and Domain default to ServiceType and Domain.
	Service string
	Domain  string

	// Port is the signaling port to advertise.
	Port int

	// Text holds optional TXT records.
	Text []string

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the baby device's signaling endpoint. Start and
// Stop are idempotent; registration failures are reported on Errors.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger
	errs    chan error

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

// NewAdvertiser creates an Advertiser. Nothing is published until Start.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Name == "" {
		config.Name = ServiceName
	}
	if config.Service == "" {
		config.Service = ServiceType
	}
	if config.Domain == "" {
		config.Domain = Domain
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Advertiser{
		config:  config,
		factory: factory,
		log:     loggerFactory.NewLogger("advertiser"),
		errs:    make(chan error, 8),
	}
}

// Start publishes the service. Calling it while already advertising is a no-op.
func (a *Advertiser) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		reportErr(a.errs, ErrClosed, a.log.Warnf)
		return
	}
	if a.server != nil {
		return
	}

	service := zeroconfService(a.config.Service)
	domain := zeroconfDomain(a.config.Domain)
	a.log.Debugf("registering mDNS service: instance=%q service=%s domain=%s port=%d",
		a.config.Name, service, domain, a.config.Port)

	server, err := a.factory.Register(a.config.Name, service, domain, a.config.Port, a.config.Text, a.config.Interfaces)
	if err != nil {
		a.log.Errorf("mDNS registration failed: %v", err)
		reportErr(a.errs, fmt.Errorf("advertiser: mDNS registration failed for %s: %w", service, err), a.log.Warnf)
		return
	}

	a.log.Infof("advertising %q on port %d", a.config.Name, a.config.Port)
	a.server = server
}

// Stop withdraws the service. Calling it while not advertising is a no-op.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Advertiser) stopLocked() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.log.Debugf("stopped advertising %q", a.config.Name)
}

// IsAdvertising reports whether the service is currently published.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Errors returns the side channel carrying registration failures.
func (a *Advertiser) Errors() <-chan error {
	return a.errs
}

// Close stops advertising for good.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.closed = true
}
