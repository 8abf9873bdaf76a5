package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
)

const (
	snapshotRecentTasks = 5
	snapshotTopTasks    = 5
)

// SnapshotBuilder assembles the SystemSnapshot a thought is evaluated
// against. Memory and secrets services are optional; a missing service just
// leaves its section empty.
type SnapshotBuilder struct {
	store   persistence.Store
	memory  ports.MemoryService
	secrets ports.SecretsService
	logger  logging.Logger
}

// NewSnapshotBuilder wires the snapshot sources.
func NewSnapshotBuilder(store persistence.Store, memory ports.MemoryService, secrets ports.SecretsService, logger logging.Logger) *SnapshotBuilder {
	return &SnapshotBuilder{store: store, memory: memory, secrets: secrets, logger: logging.OrNop(logger)}
}

// Build captures current queue state, recent history, identity, and detected
// secrets. Failures of individual sources degrade to empty sections; a
// snapshot is advisory context, never a correctness dependency.
func (b *SnapshotBuilder) Build(ctx context.Context, thought model.Thought, task *model.Task, channelID string) *model.SystemSnapshot {
	snap := &model.SystemSnapshot{
		ChannelID: channelID,
		TakenAt:   time.Now().UTC(),
		CurrentThought: &model.ThoughtSummary{
			ThoughtID:   thought.ThoughtID,
			ThoughtType: thought.ThoughtType,
			Status:      thought.Status,
			PonderCount: thought.PonderCount,
		},
	}
	if task != nil {
		snap.CurrentTask = &model.TaskSummary{
			TaskID:      task.TaskID,
			Description: task.Description,
			Priority:    task.Priority,
			Status:      task.Status,
		}
	}

	snap.TaskCounts = make(map[model.TaskStatus]int)
	for _, status := range []model.TaskStatus{model.TaskPending, model.TaskActive, model.TaskCompleted, model.TaskDeferred} {
		if n, err := b.store.CountTasks(ctx, status); err == nil {
			snap.TaskCounts[status] = n
		}
	}
	if n, err := b.store.CountActiveThoughts(ctx); err == nil {
		snap.PendingThoughtCount = n
	}

	if recent, err := b.store.GetRecentCompletedTasks(ctx, snapshotRecentTasks); err == nil {
		for _, t := range recent {
			snap.RecentCompletedTasks = append(snap.RecentCompletedTasks, summarize(t))
		}
	}
	if top, err := b.store.GetTopTasks(ctx, snapshotTopTasks); err == nil {
		for _, t := range top {
			snap.TopPendingTasks = append(snap.TopPendingTasks, summarize(t))
		}
	}

	if b.memory != nil {
		identity, err := b.memory.ExportIdentityContext(ctx)
		if err != nil {
			b.logger.Warn("Snapshot: identity export failed: %v", err)
		} else {
			snap.AgentIdentity = identity
		}
	}
	if b.secrets != nil {
		refs, err := b.secrets.ListAllSecrets(ctx)
		if err != nil {
			b.logger.Warn("Snapshot: secrets listing failed: %v", err)
		} else {
			snap.DetectedSecrets = refs
		}
	}
	return snap
}

func summarize(t *model.Task) model.TaskSummary {
	return model.TaskSummary{TaskID: t.TaskID, Description: t.Description, Priority: t.Priority, Status: t.Status}
}

// RenderSnapshot flattens a snapshot into prompt text.
func RenderSnapshot(snap *model.SystemSnapshot) string {
	if snap == nil {
		return ""
	}
	var b strings.Builder
	if snap.AgentIdentity != "" {
		fmt.Fprintf(&b, "Identity:\n%s\n\n", snap.AgentIdentity)
	}
	if snap.ChannelID != "" {
		fmt.Fprintf(&b, "Channel: %s\n", snap.ChannelID)
	}
	if len(snap.TaskCounts) > 0 {
		fmt.Fprintf(&b, "Tasks: %d pending, %d active; %d thoughts in flight\n",
			snap.TaskCounts[model.TaskPending], snap.TaskCounts[model.TaskActive], snap.PendingThoughtCount)
	}
	if len(snap.TopPendingTasks) > 0 {
		b.WriteString("Top queued tasks:\n")
		for _, t := range snap.TopPendingTasks {
			fmt.Fprintf(&b, "- [%d] %s\n", t.Priority, t.Description)
		}
	}
	if len(snap.RecentCompletedTasks) > 0 {
		b.WriteString("Recently completed:\n")
		for _, t := range snap.RecentCompletedTasks {
			fmt.Fprintf(&b, "- %s\n", t.Description)
		}
	}
	if len(snap.DetectedSecrets) > 0 {
		fmt.Fprintf(&b, "Secrets on file: %d (redacted)\n", len(snap.DetectedSecrets))
	}
	return b.String()
}

// ResolveChannelID picks the channel a thought's output should land in.
// Precedence: task context, thought context, configured home channel, the
// agent mode's default, then the UNKNOWN sentinel.
func ResolveChannelID(task *model.Task, thought model.Thought, homeChannelID, agentMode string) string {
	if task != nil && task.Context.ChannelID != "" {
		return task.Context.ChannelID
	}
	if thought.Context.ChannelID != "" {
		return thought.Context.ChannelID
	}
	if homeChannelID != "" {
		return homeChannelID
	}
	if agentMode == "cli" {
		return "cli"
	}
	return "UNKNOWN"
}
