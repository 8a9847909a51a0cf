package util

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	TotalConns     atomic.Int64 // cumulative count of signaling connections since process start
	ClosedConns    atomic.Int64 // cumulative count of closed signaling connections
	FramesSent     atomic.Int64 // cumulative frames written to signaling connections
	FramesRecv     atomic.Int64 // cumulative frames read from signaling connections
	DecodeFailures atomic.Int64 // frames no decoder accepted
	Sessions       atomic.Int64 // currently open media sessions
	MediaBytes     atomic.Int64 // cumulative RTP payload bytes received by the parent
}

func (s *stats) AddConn()            { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()         { s.ClosedConns.Add(1) }
func (s *stats) AddSent()            { s.FramesSent.Add(1) }
func (s *stats) AddRecv()            { s.FramesRecv.Add(1) }
func (s *stats) AddDecodeFailure()   { s.DecodeFailures.Add(1) }
func (s *stats) OpenSession()        { s.Sessions.Add(1) }
func (s *stats) CloseSession()       { s.Sessions.Add(-1) }
func (s *stats) AddMediaBytes(n int) { s.MediaBytes.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Prometheus export
// ──────────────────────────────────────────────────────────────────────────────

func counterFunc(name, help string, v *atomic.Int64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "babymonitor",
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

func init() {
	prometheus.MustRegister(
		counterFunc("signaling_connections_total", "Signaling connections accepted or dialed", &Stats.TotalConns),
		counterFunc("signaling_connections_closed_total", "Signaling connections closed", &Stats.ClosedConns),
		counterFunc("signaling_frames_sent_total", "Signaling frames written", &Stats.FramesSent),
		counterFunc("signaling_frames_received_total", "Signaling frames read", &Stats.FramesRecv),
		counterFunc("signaling_decode_failures_total", "Signaling frames no decoder accepted", &Stats.DecodeFailures),
		counterFunc("media_bytes_received_total", "RTP payload bytes received", &Stats.MediaBytes),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "babymonitor",
			Name:      "sessions",
			Help:      "Number of currently open media sessions",
		}, func() float64 { return float64(Stats.Sessions.Load()) }),
	)
}

// MetricsHandler serves the default prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevTotal, prevClosed, prevMedia int64
		for {
			select {
			case <-ticker.C:
				total := Stats.TotalConns.Load()
				closed := Stats.ClosedConns.Load()
				media := Stats.MediaBytes.Load()

				inC := total - prevTotal
				outC := closed - prevClosed
				rate := float64(media-prevMedia) / 10.0

				if inC > 0 || outC > 0 || rate > 10 {
					pterm.DefaultLogger.Info(formatStats(rate, inC, outC, Stats.Sessions.Load()))
				}

				prevTotal = total
				prevClosed = closed
				prevMedia = media

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(mediaRate float64, inC, outC, sessions int64) string {
	return fmt.Sprintf("Media: %s/s | Conn: %2d↑ %2d↓ | Sessions: %d",
		formatBytes(mediaRate),
		inC,
		outC,
		sessions,
	)
}
