package metrics

import "time"

// QuotaChecked records the outcome of a quota check
func QuotaChecked(result string) {
	QuotaChecksTotal.WithLabelValues(result).Inc()
}

// UsageRecorded records the outcome of a usage increment
func UsageRecorded(result string) {
	QuotaIncrementsTotal.WithLabelValues(result).Inc()
}

// NotificationDispatched records a threshold notification outcome
func NotificationDispatched(threshold, status string) {
	QuotaNotificationsTotal.WithLabelValues(threshold, status).Inc()
}

// PlanChanged records a plan change
func PlanChanged(plan string) {
	PlanChangesTotal.WithLabelValues(plan).Inc()
}

// ObserveStore records the latency of a store call started at start
func ObserveStore(operation string, start time.Time) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// TaskCompleted records a successful background task run
func TaskCompleted(task string, duration time.Duration) {
	TasksTotal.WithLabelValues(task, "completed").Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// TaskFailed records a background task failure
func TaskFailed(task string) {
	TasksTotal.WithLabelValues(task, "failed").Inc()
}
