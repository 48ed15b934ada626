package telemetry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"lift-control-core/utils"
)

const (
	defaultInfluxPingTimeout = 5 * time.Second
	defaultInfluxBatchSize   = 100
	defaultInfluxFlushMS     = 1000
)

// ErrInfluxDisabled is returned by ConnectInflux when the sink is turned off in config.
var ErrInfluxDisabled = errors.New("influxdb sink disabled")

// InfluxConfig maps to the telemetry.influxdb section of the config file.
type InfluxConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMS int    `yaml:"flush_interval_ms"`
}

// pointWriter is the part of the non-blocking influx write API the sink needs.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// InfluxSink writes each snapshot as one point, measurement = namespace.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
	tags   map[string]string
	clk    clock.Clock
	log    *utils.Logger
}

// ConnectInflux pings the server and opens a batching write API.
func ConnectInflux(ctx context.Context, cfg InfluxConfig, tags map[string]string, log *utils.Logger) (*InfluxSink, error) {
	if !cfg.Enabled {
		return nil, ErrInfluxDisabled
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultInfluxBatchSize
	}
	flush := cfg.FlushIntervalMS
	if flush <= 0 {
		flush = defaultInfluxFlushMS
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(uint(batch)).SetFlushInterval(uint(flush)))

	pingCtx, cancel := context.WithTimeout(ctx, defaultInfluxPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "influxdb ping %s", cfg.URL)
	}
	if !healthy {
		client.Close()
		return nil, errors.Errorf("influxdb at %s is not healthy", cfg.URL)
	}

	s := newInfluxSink(client.WriteAPI(cfg.Org, cfg.Bucket), tags, clock.New(), log)
	s.client = client
	return s, nil
}

func newInfluxSink(w pointWriter, tags map[string]string, clk clock.Clock, log *utils.Logger) *InfluxSink {
	s := &InfluxSink{writer: w, tags: tags, clk: clk, log: log.Named("influx")}
	go s.handleWriteErrors(w.Errors())
	return s
}

// handleWriteErrors logs async write failures; telemetry loss never stops control.
func (s *InfluxSink) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		s.log.Warn("write failed: %v", err)
	}
}

func (s *InfluxSink) Publish(namespace string, snapshot Snapshot) {
	s.writer.WritePoint(write.NewPoint(namespace, s.tags, snapshot.Fields(), s.clk.Now()))
}

// Close flushes pending points and releases the client.
func (s *InfluxSink) Close() error {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
