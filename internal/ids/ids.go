// Package ids produces prefixed identifiers for tasks, thoughts, and
// correlations. KSUIDs keep identifiers lexicographically sortable by
// creation time, which the persistence ordering rules lean on as a
// tie-breaker; correlation IDs use UUIDs since they cross service
// boundaries.
package ids

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

func newIdentifier(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, ksuid.New().String())
}

// NewTaskID generates a task identifier with a stable prefix for display.
func NewTaskID() string {
	return newIdentifier("task")
}

// NewThoughtID generates a thought identifier.
func NewThoughtID() string {
	return newIdentifier("th")
}

// NewScheduledTaskID generates a scheduled-task identifier.
func NewScheduledTaskID() string {
	return newIdentifier("sched")
}

// NewMessageID generates an outbound message identifier for deferral reports.
func NewMessageID() string {
	return newIdentifier("msg")
}

// NewCorrelationID generates a correlation identifier.
func NewCorrelationID() string {
	return uuid.New().String()
}
