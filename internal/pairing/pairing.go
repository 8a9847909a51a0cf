// Package pairing finds a baby device on the local network, connects the
// parent to it, and keeps checking that the paired device is still there.
package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/babymonitor/internal/config"
	"github.com/1ureka/babymonitor/internal/discovery"
	"github.com/1ureka/babymonitor/internal/signaling"
	"github.com/1ureka/babymonitor/internal/util"
)

var (
	// ErrSearchTimeout resolves a search that ran out of time.
	ErrSearchTimeout = errors.New("pairing: search timed out")

	// ErrDeviceNotFound resolves a pairing attempt that could not connect.
	ErrDeviceNotFound = errors.New("pairing: device not found")

	// ErrSearchCancelled resolves a search ended by Stop or Close.
	ErrSearchCancelled = errors.New("pairing: search cancelled")
)

// Discoverer is the continuous service discovery the orchestrator drives.
type Discoverer interface {
	Start()
	Stop()
	Enabled() bool
	Subscribe() (<-chan []discovery.ServiceDescriptor, func())
}

// Finder probes discovery for one endpoint.
type Finder interface {
	Find(ctx context.Context, host, port string) (bool, error)
}

// BabiesRepository records paired devices.
type BabiesRepository interface {
	ServerURL() string
	SetServerURL(url string) error
	SaveDevice(d config.Device) error
}

// ErrorLogger is a fire-and-forget error sink.
type ErrorLogger interface {
	Log(err error)
}

// Analytics is a fire-and-forget event sink.
type Analytics interface {
	Track(event string, props map[string]string)
}

// DialFunc opens a signaling connection to url.
type DialFunc func(ctx context.Context, url string) (signaling.Conn, error)

var (
	_ Discoverer       = (*discovery.Browser)(nil)
	_ Finder           = (*discovery.Browser)(nil)
	_ BabiesRepository = config.Store(nil)
	_ ErrorLogger      = util.LogErrorLogger{}
	_ Analytics        = util.LogAnalytics{}
)

// Analytics event names.
const (
	EventSearchStarted    = "search_started"
	EventDevicesFound     = "devices_found"
	EventSearchTimeout    = "search_timeout"
	EventPairingSucceeded = "pairing_succeeded"
	EventPairingFailed    = "pairing_failed"
)

// State is the search state published to the UI.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateDevicesFound
	StateTimeoutReached
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateDevicesFound:
		return "devicesFound"
	case StateTimeoutReached:
		return "timeoutReached"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one search. On success URL is the paired
// signaling URL and Conn is the open connection, now owned by the
// receiver. Otherwise Err wraps one of the Err* sentinels.
type Result struct {
	URL    string
	Device discovery.ServiceDescriptor
	Conn   signaling.Conn
	Err    error
}

// OK reports whether the search paired successfully.
func (r Result) OK() bool { return r.Err == nil }
