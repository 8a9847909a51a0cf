package app

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/1ureka/babymonitor/internal/config"
	"github.com/1ureka/babymonitor/internal/discovery"
	"github.com/1ureka/babymonitor/internal/signaling"
	"github.com/1ureka/babymonitor/internal/transport"
	"github.com/1ureka/babymonitor/internal/util"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

// RunBaby orchestrates the baby device lifecycle:
//  1. Start the signaling server (bind failure is fatal)
//  2. Advertise it over mDNS
//  3. Answer every parent that connects, one session each
//  4. Serve until ctx is cancelled
func RunBaby(ctx context.Context, cfg *config.Config, store config.Store) error {
	if err := store.SetAppMode(config.ModeBaby); err != nil {
		util.LogWarning("failed to save app mode: %v", err)
	}

	lf := loggerFactory(cfg)
	factory, err := newFactory(cfg, lf)
	if err != nil {
		return err
	}
	source, err := rtc.NewStaticMediaSource("baby", rtc.DefaultConstraints())
	if err != nil {
		return err
	}

	// ── 1. Signaling server ───────────────────────────────────────────
	handlers := map[string]http.Handler{}
	if cfg.Metrics {
		handlers["/metrics"] = util.MetricsHandler()
	}
	srv := transport.NewServer(transport.ServerConfig{
		Addr:     fmt.Sprintf(":%d", cfg.Port),
		Handlers: handlers,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()

	port := cfg.Port
	if tcp, ok := srv.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	// ── 2. mDNS advertisement ─────────────────────────────────────────
	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Name:          cfg.ServiceName,
		Service:       cfg.ServiceType,
		Domain:        cfg.Domain,
		Port:          port,
		LoggerFactory: lf,
	})
	logErrors("advertiser", adv.Errors(), ctx.Done())
	adv.Start()
	defer adv.Close()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          Baby Monitor Signaling          ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Name : %-32s ║\n", cfg.ServiceName)
	fmt.Printf("║  Port : %-32d ║\n", port)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	util.LogInfo("waiting for parents...")

	// ── 3. Sessions ───────────────────────────────────────────────────
	baby := signaling.NewBaby(signaling.BabyConfig{
		Factory: factory,
		Source:  source,
		OnStateChange: func(id string, state signaling.State) {
			switch state {
			case signaling.StateConnected:
				util.LogSuccess("[%s] streaming to parent", id)
			case signaling.StateFailed:
				util.LogWarning("[%s] peer connection failed, waiting for a new offer", id)
			default:
				util.LogDebug("[%s] session %s", id, state)
			}
		},
	})
	defer baby.Close()

	util.StartStatsReporter(ctx)

	// ── 4. Serve ──────────────────────────────────────────────────────
	baby.Serve(ctx, srv.Events())
	return nil
}
