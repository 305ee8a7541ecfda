package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fifobus/pkg/protocol"
)

// Metrics holds the Prometheus collectors shared by every fifobus component.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Channel metrics
	FramesWritten *prometheus.CounterVec
	FramesRead    *prometheus.CounterVec
	FrameBytes    *prometheus.HistogramVec
	ChannelErrors *prometheus.CounterVec
	AttachRetries *prometheus.CounterVec

	// Scheduler metrics
	TaskRuns     *prometheus.CounterVec
	TaskFailures *prometheus.CounterVec

	// Ingest metrics
	DuplicatesDropped *prometheus.CounterVec

	// Publishers and subscribers that ended with an error
	UnitFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_frames_written_total",
				Help: "Frames written to a channel",
			},
			[]string{"channel"},
		),
		FramesRead: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_frames_read_total",
				Help: "Frames read from a channel",
			},
			[]string{"channel"},
		),
		FrameBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fifobus_frame_payload_bytes",
				Help:    "Frame payload size in bytes",
				Buckets: []float64{16, 64, 256, 1024, 4096, 16384, 65536, 1 << 20},
			},
			[]string{"channel", "direction"},
		),
		ChannelErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_channel_errors_total",
				Help: "Channel failures by kind",
			},
			[]string{"channel", "kind"},
		),
		AttachRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_attach_retries_total",
				Help: "Attempts to open a channel whose peer was not attached yet",
			},
			[]string{"channel"},
		),
		TaskRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_task_runs_total",
				Help: "Scheduled task invocations",
			},
			[]string{"task"},
		),
		TaskFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_task_failures_total",
				Help: "Scheduled task invocations that returned an error or panicked",
			},
			[]string{"task"},
		),
		DuplicatesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_duplicates_dropped_total",
				Help: "Records dropped because their id was already seen",
			},
			[]string{"channel"},
		),
		UnitFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fifobus_unit_failures_total",
				Help: "Publishers and subscribers that stopped with an error",
			},
			[]string{"role", "channel", "kind"},
		),
	}
}

func (m *Metrics) FrameWritten(channel string, size int) {
	if m == nil {
		return
	}
	m.FramesWritten.WithLabelValues(channel).Inc()
	m.FrameBytes.WithLabelValues(channel, "out").Observe(float64(size))
}

func (m *Metrics) FrameRead(channel string, size int) {
	if m == nil {
		return
	}
	m.FramesRead.WithLabelValues(channel).Inc()
	m.FrameBytes.WithLabelValues(channel, "in").Observe(float64(size))
}

func (m *Metrics) ChannelError(channel string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ChannelErrors.WithLabelValues(channel, ErrorKind(err)).Inc()
}

func (m *Metrics) AttachRetry(channel string) {
	if m == nil {
		return
	}
	m.AttachRetries.WithLabelValues(channel).Inc()
}

func (m *Metrics) TaskRun(task string, err error) {
	if m == nil {
		return
	}
	m.TaskRuns.WithLabelValues(task).Inc()
	if err != nil {
		m.TaskFailures.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) DuplicateDropped(channel string) {
	if m == nil {
		return
	}
	m.DuplicatesDropped.WithLabelValues(channel).Inc()
}

// ErrorKind maps err onto a small, fixed label set.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, protocol.ErrBrokenPeer):
		return "broken_peer"
	case errors.Is(err, protocol.ErrChannelClosed):
		return "closed"
	case errors.Is(err, protocol.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, protocol.ErrTransientUnavailable):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// ServeMetrics exposes g on addr at /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) UnitFailed(role, channel string, err error) {
	if m == nil || err == nil {
		return
	}
	m.UnitFailures.WithLabelValues(role, channel, ErrorKind(err)).Inc()
}
