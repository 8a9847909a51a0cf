package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/babymonitor/internal/config"
	"github.com/1ureka/babymonitor/internal/discovery"
	"github.com/1ureka/babymonitor/internal/signaling"
)

const defaultDialTimeout = 10 * time.Second

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Discoverer Discoverer
	Dial       DialFunc

	// Repository, ErrorLogger and Analytics are optional.
	Repository  BabiesRepository
	ErrorLogger ErrorLogger
	Analytics   Analytics

	// DialTimeout bounds one pairing attempt (default 10s).
	DialTimeout time.Duration

	// Now stamps device records. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the discovery and pairing flow. Every public method
// except Close only schedules work on the orchestrator's own goroutine and
// returns; registered handlers are called on that goroutine. Handlers may
// call StartDiscovering, Pair and Stop, but calling Close from a handler
// deadlocks since Close waits for the loop.
type Orchestrator struct {
	config OrchestratorConfig

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// Owned by the loop goroutine.
	gen         uint64
	attempt     uint64
	pending     bool
	timer       *time.Timer
	unsubscribe func()
	state       State
	onState     []func(State)
	onServices  []func([]discovery.ServiceDescriptor)
	onResult    []func(Result)

	// Snapshots for State and Services.
	mu           sync.Mutex
	snapState    State
	snapServices []discovery.ServiceDescriptor
}

// NewOrchestrator creates an idle orchestrator and starts its loop.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan func(), 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case fn := <-o.cmds:
			fn()
		case <-o.quit:
			return
		}
	}
}

// post schedules fn on the loop. It reports false once the orchestrator
// is closed.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.quit:
		return false
	default:
	}
	select {
	case o.cmds <- fn:
		return true
	case <-o.quit:
		return false
	}
}

// OnStateChange registers a handler for search state transitions. The
// handler runs on the loop goroutine and must not call Close.
func (o *Orchestrator) OnStateChange(fn func(State)) {
	o.post(func() { o.onState = append(o.onState, fn) })
}

// OnServices registers a handler for every discovered service set.
func (o *Orchestrator) OnServices(fn func([]discovery.ServiceDescriptor)) {
	o.post(func() { o.onServices = append(o.onServices, fn) })
}

// OnDeviceSearchFinished registers a handler for search results. Each
// search resolves at most once; a restarted search never resolves the
// one it replaced. The handler runs on the loop goroutine and must not
// call Close.
func (o *Orchestrator) OnDeviceSearchFinished(fn func(Result)) {
	o.post(func() { o.onResult = append(o.onResult, fn) })
}

// State returns the current search state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapState
}

// Services returns the latest discovered service set.
func (o *Orchestrator) Services() []discovery.ServiceDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]discovery.ServiceDescriptor(nil), o.snapServices...)
}

// StartDiscovering begins a search that resolves to ErrSearchTimeout
// unless a device is paired within timeout. Calling it again restarts the
// search and discards the previous one.
func (o *Orchestrator) StartDiscovering(timeout time.Duration) {
	o.post(func() {
		o.endSearch()
		o.gen++
		o.attempt++
		gen := o.gen

		o.pending = true
		o.setServices(nil)
		o.setState(StateSearching)

		sets, unsubscribe := o.config.Discoverer.Subscribe()
		o.unsubscribe = unsubscribe
		o.config.Discoverer.Start()
		go o.forward(gen, sets)

		o.timer = time.AfterFunc(timeout, func() {
			o.post(func() { o.handleTimeout(gen) })
		})
		o.track(EventSearchStarted, map[string]string{"timeout": timeout.String()})
	})
}

// Pair connects to d. Success resolves the search with the open
// connection and stops discovery; failure resolves it with
// ErrDeviceNotFound. The search timeout keeps running while the dial is
// in flight; if it fires first the search resolves with ErrSearchTimeout
// and the late connection is closed. Pair works without a running search.
func (o *Orchestrator) Pair(d discovery.ServiceDescriptor) {
	o.post(func() {
		o.attempt++
		attempt := o.attempt
		o.pending = true

		url := d.SignalingURL()
		go func() {
			ctx, cancel := context.WithTimeout(o.ctx, o.config.DialTimeout)
			defer cancel()

			conn, err := o.config.Dial(ctx, url)
			delivered := o.post(func() { o.handleDial(attempt, d, url, conn, err) })
			if !delivered && conn != nil {
				conn.Close()
			}
		}()
	})
}

// Stop ends the current search, resolving it with ErrSearchCancelled if it
// had not resolved yet.
func (o *Orchestrator) Stop() {
	o.post(o.stop)
}

// Close stops the orchestrator for good and waits for its loop to exit.
// It must not be called from a registered handler.
func (o *Orchestrator) Close() {
	o.once.Do(func() {
		finished := make(chan struct{})
		if o.post(func() {
			o.stop()
			close(finished)
		}) {
			<-finished
		}
		o.cancel()
		close(o.quit)
		<-o.done
	})
}

func (o *Orchestrator) stop() {
	o.endSearch()
	o.gen++
	o.attempt++
	o.resolve(Result{Err: ErrSearchCancelled})
	o.setState(StateIdle)
}

// forward moves service sets from a subscription onto the loop.
func (o *Orchestrator) forward(gen uint64, sets <-chan []discovery.ServiceDescriptor) {
	for set := range sets {
		set := set
		if !o.post(func() { o.handleServices(gen, set) }) {
			return
		}
	}
}

func (o *Orchestrator) handleServices(gen uint64, set []discovery.ServiceDescriptor) {
	if gen != o.gen || o.unsubscribe == nil {
		return
	}
	o.setServices(set)
	for _, fn := range o.onServices {
		fn(set)
	}
	if len(set) > 0 && o.state == StateSearching {
		o.setState(StateDevicesFound)
		o.track(EventDevicesFound, map[string]string{"count": fmt.Sprint(len(set))})
	}
}

func (o *Orchestrator) handleTimeout(gen uint64) {
	if gen != o.gen || !o.pending {
		return
	}
	o.endSearch()
	o.attempt++
	o.setState(StateTimeoutReached)
	o.track(EventSearchTimeout, nil)
	o.resolve(Result{Err: ErrSearchTimeout})
}

func (o *Orchestrator) handleDial(attempt uint64, d discovery.ServiceDescriptor, url string, conn signaling.Conn, err error) {
	if attempt != o.attempt {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, url, err)
		o.stopTimer()
		o.logErr(err)
		o.track(EventPairingFailed, map[string]string{"url": url})
		o.resolve(Result{URL: url, Device: d, Err: err})
		return
	}

	o.endSearch()
	o.gen++
	o.setState(StateConnected)
	o.remember(d, url)
	o.track(EventPairingSucceeded, map[string]string{"url": url})
	o.resolve(Result{URL: url, Device: d, Conn: conn})
}

// remember records the paired device. Failures are logged only.
func (o *Orchestrator) remember(d discovery.ServiceDescriptor, url string) {
	repo := o.config.Repository
	if repo == nil {
		return
	}
	if err := repo.SetServerURL(url); err != nil {
		o.logErr(fmt.Errorf("pairing: save server url: %w", err))
	}
	device := config.Device{Name: d.Name, URL: url, PairedAt: o.config.Now()}
	if err := repo.SaveDevice(device); err != nil {
		o.logErr(fmt.Errorf("pairing: save device: %w", err))
	}
}

func (o *Orchestrator) resolve(r Result) {
	if !o.pending {
		return
	}
	o.pending = false
	delivered := false
	for _, fn := range o.onResult {
		fn(r)
		delivered = true
	}
	if !delivered && r.Conn != nil {
		r.Conn.Close()
	}
}

// endSearch stops the timer and discovery for the current search.
func (o *Orchestrator) endSearch() {
	o.stopTimer()
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
		o.config.Discoverer.Stop()
	}
}

func (o *Orchestrator) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.state = s
	o.mu.Lock()
	o.snapState = s
	o.mu.Unlock()
	for _, fn := range o.onState {
		fn(s)
	}
}

func (o *Orchestrator) setServices(set []discovery.ServiceDescriptor) {
	o.mu.Lock()
	o.snapServices = set
	o.mu.Unlock()
}

func (o *Orchestrator) track(event string, props map[string]string) {
	if o.config.Analytics != nil {
		o.config.Analytics.Track(event, props)
	}
}

func (o *Orchestrator) logErr(err error) {
	if o.config.ErrorLogger != nil {
		o.config.ErrorLogger.Log(err)
	}
}
