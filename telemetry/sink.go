// Package telemetry publishes per-tick mechanism snapshots and connectivity alerts.
package telemetry

import (
	"fmt"
	"sort"
	"strings"

	"lift-control-core/utils"
)

// Snapshot is an immutable per-tick record. Fields must be numeric or bool.
type Snapshot interface {
	Fields() map[string]any
}

// Sink receives one snapshot per mechanism per tick. Publish must not block.
type Sink interface {
	Publish(namespace string, snapshot Snapshot)
}

// MultiSink fans a snapshot out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(namespace string, snapshot Snapshot) {
	for _, s := range m {
		s.Publish(namespace, snapshot)
	}
}

// LogSink writes snapshots to the log at trace level.
type LogSink struct {
	log *utils.Logger
}

func NewLogSink(log *utils.Logger) *LogSink {
	return &LogSink{log: log.Named("telemetry")}
}

func (s *LogSink) Publish(namespace string, snapshot Snapshot) {
	s.log.Trace("%s %s", namespace, FormatFields(snapshot.Fields()))
}

// FormatFields renders fields as sorted key=value pairs.
func FormatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch v := fields[k].(type) {
		case float64:
			fmt.Fprintf(&b, "%s=%.4f", k, v)
		default:
			fmt.Fprintf(&b, "%s=%v", k, v)
		}
	}
	return b.String()
}
