package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/babymonitor/internal/config"
	"github.com/1ureka/babymonitor/internal/discovery"
	"github.com/1ureka/babymonitor/internal/pairing"
	"github.com/1ureka/babymonitor/internal/signaling"
	"github.com/1ureka/babymonitor/internal/transport"
	"github.com/1ureka/babymonitor/internal/util"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

const reconnectTimeout = 5 * time.Second

// RunParent orchestrates the parent device lifecycle:
//  1. Reconnect to the stored baby, or search for one and pair
//  2. Offer a receive-only audio/video session
//  3. Watch the paired device's reachability
//  4. Receive media until ctx is cancelled
func RunParent(ctx context.Context, cfg *config.Config, store config.Store) error {
	if err := store.SetAppMode(config.ModeParent); err != nil {
		util.LogWarning("failed to save app mode: %v", err)
	}

	lf := loggerFactory(cfg)
	factory, err := newFactory(cfg, lf)
	if err != nil {
		return err
	}

	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Service:       cfg.ServiceType,
		Domain:        cfg.Domain,
		NamePrefix:    cfg.ServiceName,
		LoggerFactory: lf,
	})
	defer browser.Close()
	logErrors("discovery", browser.Errors(), ctx.Done())

	// ── 1. Signaling connection ───────────────────────────────────────
	conn := reconnect(ctx, store.ServerURL())
	if conn == nil {
		conn, err = search(ctx, cfg, browser, store)
		if err != nil {
			return err
		}
	}

	// ── 2. Media session ──────────────────────────────────────────────
	parent := signaling.NewParent(signaling.ParentConfig{
		Factory:     factory,
		Constraints: rtc.DefaultConstraints(),
		OnTrack:     countTrackBytes,
		OnStateChange: func(state signaling.State) {
			switch state {
			case signaling.StateConnected:
				util.LogSuccess("connected to the baby device")
			case signaling.StateFailed:
				util.LogError("peer connection failed")
			default:
				util.LogDebug("session %s", state)
			}
		},
	})
	defer parent.Stop()

	parent.OnMediaStream(func(s *rtc.MediaStream) {
		util.LogSuccess("receiving media stream %q", s.ID)
	})
	if err := parent.Connect(conn); err != nil {
		return err
	}
	if err := parent.StartIfNeeded(); err != nil {
		return err
	}

	// ── 3. Reachability ───────────────────────────────────────────────
	health := pairing.NewHealthChecker(pairing.HealthConfig{
		Finder:       browser,
		Source:       store,
		Interval:     cfg.HealthInterval,
		ProbeTimeout: cfg.ProbeTimeout,
	})
	health.OnChange(func(c pairing.Connectivity) {
		if c == pairing.ConnectivityUnreachable {
			util.LogWarning("baby device is not announcing itself")
			return
		}
		util.LogInfo("baby device %s", c)
	})
	health.Start()
	defer health.Stop()

	util.StartStatsReporter(ctx)

	// ── 4. Run ────────────────────────────────────────────────────────
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-parent.Errors():
			util.LogWarning("negotiation: %v", err)
		}
	}
}

// reconnect dials a previously paired server. It returns nil when there
// is none or it cannot be reached.
func reconnect(ctx context.Context, url string) signaling.Conn {
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, reconnectTimeout)
	defer cancel()

	conn, err := transport.Dial(ctx, url)
	if err != nil {
		util.LogWarning("paired device at %s unavailable, searching: %v", url, err)
		return nil
	}
	util.LogInfo("reconnected to %s", url)
	return conn
}

// search runs discovery and pairing until a device is paired, the user
// gives up, or ctx is cancelled.
func search(ctx context.Context, cfg *config.Config, browser *discovery.Browser, store config.Store) (signaling.Conn, error) {
	orch := pairing.NewOrchestrator(pairing.OrchestratorConfig{
		Discoverer:  browser,
		Dial:        dial,
		Repository:  store,
		ErrorLogger: util.LogErrorLogger{},
		Analytics:   util.LogAnalytics{},
	})
	defer orch.Close()

	results := make(chan pairing.Result, 4)
	found := make(chan struct{}, 1)

	orch.OnDeviceSearchFinished(func(r pairing.Result) { results <- r })
	orch.OnStateChange(func(s pairing.State) {
		if s == pairing.StateDevicesFound {
			select {
			case found <- struct{}{}:
			default:
			}
		}
	})
	// paired is written from the orchestrator loop; reset per search.
	var paired atomic.Bool
	if cfg.AutoPair {
		orch.OnServices(func(set []discovery.ServiceDescriptor) {
			if len(set) > 0 && paired.CompareAndSwap(false, true) {
				orch.Pair(set[0])
			}
		})
	}

	spinner, _ := pterm.DefaultSpinner.Start("searching for baby devices...")
	orch.StartDiscovering(cfg.SearchTimeout)

	for {
		select {
		case <-ctx.Done():
			spinner.Stop()
			return nil, ctx.Err()

		case <-found:
			if cfg.AutoPair {
				continue
			}
			spinner.Stop()
			if d, ok := chooseDevice(orch.Services()); ok {
				orch.Pair(d)
			}

		case r := <-results:
			spinner.Stop()
			switch {
			case r.OK():
				util.LogSuccess("paired with %s", r.URL)
				return r.Conn, nil
			case errors.Is(r.Err, pairing.ErrSearchTimeout):
				util.LogWarning("no baby device found within %s", cfg.SearchTimeout)
				if !askRetry() {
					return nil, r.Err
				}
			case errors.Is(r.Err, pairing.ErrDeviceNotFound):
				util.LogWarning("%v", r.Err)
			default:
				return nil, r.Err
			}
			paired.Store(false)
			spinner, _ = pterm.DefaultSpinner.Start("searching for baby devices...")
			orch.StartDiscovering(cfg.SearchTimeout)
		}
	}
}

func dial(ctx context.Context, url string) (signaling.Conn, error) {
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// chooseDevice prompts for one of the discovered devices.
func chooseDevice(services []discovery.ServiceDescriptor) (discovery.ServiceDescriptor, bool) {
	if len(services) == 0 {
		return discovery.ServiceDescriptor{}, false
	}

	options := make([]string, len(services))
	byOption := make(map[string]discovery.ServiceDescriptor, len(services))
	for i, s := range services {
		options[i] = fmt.Sprintf("%s (%s)", s.Name, s.Key())
		byOption[options[i]] = s
	}

	selected, err := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText("Select a baby device").
		Show()
	pterm.Println()
	if err != nil {
		util.LogWarning("device selection: %v", err)
		return discovery.ServiceDescriptor{}, false
	}
	d, ok := byOption[selected]
	return d, ok
}

func askRetry() bool {
	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Search again?").
		WithDefaultValue(true).
		Show()
	pterm.Println()
	return err == nil && ok
}

// countTrackBytes drains RTP from a remote track and counts its payload.
// Decoding and playback are left to the platform layer.
func countTrackBytes(track *webrtc.TrackRemote) {
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				util.LogDebug("%s track ended: %v", track.Kind(), err)
				return
			}
			util.Stats.AddMediaBytes(n)
		}
	}()
}
