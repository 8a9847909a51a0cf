package discovery

import "errors"

var (
	// ErrClosed is reported when a closed Advertiser or Browser is used.
	ErrClosed = errors.New("discovery: closed")
)

// reportErr pushes err onto a side channel without blocking. When the
// channel is full the error is only logged.
func reportErr(ch chan error, err error, logf func(string, ...interface{})) {
	select {
	case ch <- err:
	default:
		logf("dropping discovery error: %v", err)
	}
}
