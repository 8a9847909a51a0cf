// Package app contains the top-level orchestration for the baby and parent roles.
package app

import (
	"github.com/pion/logging"

	"github.com/1ureka/babymonitor/internal/config"
	"github.com/1ureka/babymonitor/internal/util"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

// loggerFactory routes pion and discovery logs through pterm, verbose
// only in debug mode.
func loggerFactory(cfg *config.Config) logging.LoggerFactory {
	level := logging.LogLevelWarn
	if cfg.Debug {
		level = logging.LogLevelDebug
	}
	return util.NewLoggerFactory(level)
}

func newFactory(cfg *config.Config, lf logging.LoggerFactory) (*rtc.PionFactory, error) {
	return rtc.NewFactory(rtc.Config{
		STUNServers:   cfg.STUNServers,
		LoggerFactory: lf,
	})
}

// logErrors drains a component's side-channel errors into the log until
// it is closed or done fires.
func logErrors(component string, errs <-chan error, done <-chan struct{}) {
	go func() {
		for {
			select {
			case <-done:
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				util.LogWarning("%s: %v", component, err)
			}
		}
	}()
}
