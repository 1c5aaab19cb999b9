package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for log store metrics.
const (
	AppendedLinesTotalKey      = "logstore_appended_lines_total"
	AppendedBytesTotalKey      = "logstore_appended_bytes_total"
	AppendFailuresTotalKey     = "logstore_append_failures_total"
	EvictedFilesTotalKey       = "logstore_evicted_files_total"
	EvictedBytesTotalKey       = "logstore_evicted_bytes_total"
	EvictionPassesTotalKey     = "logstore_eviction_passes_total"
	DeletedBytesTotalKey       = "logstore_deleted_bytes_total"
	SizeBytesKey               = "logstore_size_bytes"
	AlertsRecordedTotalKey     = "logstore_alerts_recorded_total"
	NotificationsTotalKey      = "logstore_notifications_total"
	GatewayRequestsTotalKey    = "logstore_gateway_requests_total"
	GatewayResponseTimeSecsKey = "logstore_gateway_response_time_seconds"

	Fail = "fail"
	Ok   = "ok"
)

// Collectors for log store metrics.
var (
	AppendedLinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: AppendedLinesTotalKey,
		Help: "Cumulative number of lines appended to log files.",
	})
	AppendedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: AppendedBytesTotalKey,
		Help: "Cumulative number of bytes appended to log files.",
	})
	AppendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: AppendFailuresTotalKey,
		Help: "Cumulative number of appends which failed to write.",
	})
	EvictedFilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: EvictedFilesTotalKey,
		Help: "Cumulative number of log files removed to satisfy the store quota.",
	})
	EvictedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: EvictedBytesTotalKey,
		Help: "Cumulative number of bytes removed to satisfy the store quota.",
	})
	EvictionPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: EvictionPassesTotalKey,
		Help: "Cumulative number of per-day eviction walks.",
	}, []string{"status"})
	DeletedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DeletedBytesTotalKey,
		Help: "Cumulative number of bytes removed by explicit deletes.",
	})
	SizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: SizeBytesKey,
		Help: "Current number of bytes beneath the store root.",
	})
	AlertsRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: AlertsRecordedTotalKey,
		Help: "Cumulative number of messages matched by a subscribed filter.",
	})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: NotificationsTotalKey,
		Help: "Cumulative number of attempted notification deliveries.",
	}, []string{"status"})
	GatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: GatewayRequestsTotalKey,
		Help: "Cumulative number of HTTP gateway requests.",
	}, []string{"route", "method"})
	GatewayResponseTimeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: GatewayResponseTimeSecsKey,
		Help: "Response time of HTTP gateway requests.",
	}, []string{"route"})
)

// LogStoreCollectors lists collectors used by the log store daemon.
func LogStoreCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		AppendedLinesTotal,
		AppendedBytesTotal,
		AppendFailuresTotal,
		EvictedFilesTotal,
		EvictedBytesTotal,
		EvictionPassesTotal,
		DeletedBytesTotal,
		SizeBytes,
		AlertsRecordedTotal,
		NotificationsTotal,
		GatewayRequestsTotal,
		GatewayResponseTimeSeconds,
	}
}
