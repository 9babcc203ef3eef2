package selfmetrics

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/telemetry/agent/internal/telemetry"
)

// StatsSource is anything that can report pipeline counters.
type StatsSource interface {
	Stats() telemetry.Stats
}

// Handler serves the counters of src on every request.
func Handler(src StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		format := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(format))

		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Families(src.Stats()) {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("selfmetrics: encode failed", "metric", mf.GetName(), "err", err)
				return
			}
		}
		if c, ok := enc.(expfmt.Closer); ok {
			_ = c.Close()
		}
	})
}

// Families converts s into metric families, in a stable order.
func Families(s telemetry.Stats) []*dto.MetricFamily {
	return []*dto.MetricFamily{
		counter("telemetry_events_reported_total", "Events admitted into the flush queue.", s.EventsReported),
		counter("telemetry_events_discarded_total", "Events dropped at admission because metrics were disabled.", s.EventsDiscarded),
		counter("telemetry_events_flushed_total", "Events delivered to the collector.", s.EventsFlushed),
		counter("telemetry_batches_sent_total", "Batches the collector accepted.", s.BatchesSent),
		counter("telemetry_batches_failed_total", "Batches lost to encode or transport errors.", s.BatchesFailed),
		counter("telemetry_mirror_errors_total", "Failed writes to the local event log.", s.MirrorErrors),
		gauge("telemetry_queue_length", "Events waiting for the next flush.", float64(s.QueueLength)),
	}
}

func counter(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Counter: &dto.Counter{Value: ptr(float64(v))},
		}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: ptr(v)},
		}},
	}
}

func ptr[T any](v T) *T { return &v }
