package util

import (
	"sort"
	"strings"
)

// LogErrorLogger is a fire-and-forget error sink that writes to the log.
type LogErrorLogger struct{}

func (LogErrorLogger) Log(err error) {
	if err != nil {
		LogError("%v", err)
	}
}

// LogAnalytics records analytics events as debug log lines.
type LogAnalytics struct{}

func (LogAnalytics) Track(event string, props map[string]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(props[k])
	}
	LogDebug("analytics: %s%s", event, b.String())
}
