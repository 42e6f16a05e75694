// Package metrics provides Prometheus metrics for the price dashboard
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dashboard"

var (
	// FeedConnected 流式连接是否处于 Connected（1/0）
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "connected",
		Help:      "流式连接状态，1 表示已连接",
	})

	// FeedStateTransitions 连接状态迁移次数
	FeedStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "state_transitions_total",
		Help:      "连接状态迁移次数（按目标状态）",
	}, []string{"state"})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "断线后安排的重连次数",
	})

	FeedTransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "transport_errors_total",
		Help:      "拨号或读取失败次数",
	})

	FeedDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "decode_errors_total",
		Help:      "被丢弃的无法解析的帧数",
	})

	// SnapshotFetches 一次性快照拉取结果（ok/error）
	SnapshotFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "fetch_total",
		Help:      "初始快照拉取次数（按结果）",
	}, []string{"result"})

	SnapshotUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "updates_total",
		Help:      "快照替换次数（按来源）",
	}, []string{"source"})

	SnapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "records",
		Help:      "当前快照记录数",
	})
)

// SetConnected 更新连接状态指标
func SetConnected(connected bool) {
	if connected {
		FeedConnected.Set(1)
		return
	}
	FeedConnected.Set(0)
}

// ObserveSnapshot 记录一次快照替换
func ObserveSnapshot(source string, records int) {
	SnapshotUpdates.WithLabelValues(source).Inc()
	SnapshotRecords.Set(float64(records))
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
