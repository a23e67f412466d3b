package notify

import (
	"context"

	application "devicehub/internal/alarmrules/application"
	"devicehub/internal/observability/metrics"
)

// MetricsNotifier counts lifecycle events by relation type.
type MetricsNotifier struct{}

// Notify implements application.Notifier.
func (MetricsNotifier) Notify(_ context.Context, event application.LifecycleEvent) {
	metrics.IncAlarmEvent(event.RelationType)
}
