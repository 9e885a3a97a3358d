package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "window_queue_depth",
			Help: "Current ranked entry count per window queue",
		},
		[]string{"group"},
	)

	dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_dispatches_total",
			Help: "Window boundary dispatches by phase and outcome",
		},
		[]string{"phase", "status"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Member queue operations",
		},
		[]string{"operation", "status"},
	)

	evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_evictions_total",
			Help: "Members displaced by capacity enforcement",
		},
		[]string{"group"},
	)

	checkins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_reports_total",
			Help: "Away reports by outcome",
		},
		[]string{"status"},
	)
)

// TrackDispatch records a scheduler boundary decision ("dispatched",
// "skipped" when the lock was held, "error").
func TrackDispatch(phase, status string) {
	dispatches.WithLabelValues(phase, status).Inc()
}

func TrackQueueOperation(operation, status string) {
	queueOperations.WithLabelValues(operation, status).Inc()
}

func TrackEviction(group string) {
	evictions.WithLabelValues(group).Inc()
}

func TrackCheckin(status string) {
	checkins.WithLabelValues(status).Inc()
}

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectQueueMetrics(context.Background())
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	var cursor uint64
	depths := make(map[string]float64)
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, "queue:*", 100).Result()
		if err != nil {
			return
		}
		for _, key := range keys {
			group := groupFromQueueKey(key)
			if group == "" {
				continue
			}
			n, err := m.redis.ZCount(ctx, key, "0", "+inf").Result()
			if err != nil {
				continue
			}
			depths[group] += float64(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	for group, depth := range depths {
		queueDepth.WithLabelValues(group).Set(depth)
	}
}

// groupFromQueueKey extracts the group segment of "queue:{group}:...".
func groupFromQueueKey(key string) string {
	const prefix = "queue:"
	if len(key) <= len(prefix) {
		return ""
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return rest
}
