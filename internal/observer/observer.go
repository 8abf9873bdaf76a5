// Package observer turns external messages into Tasks and Thoughts. An
// observer never invokes the pipeline: it writes work into persistence and
// lets the next round pick it up.
package observer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// Priority levels observation tasks are created with.
const (
	PriorityPassive  = 0
	PriorityHigh     = 5
	PriorityCritical = 10
)

// DefaultHistoryWindow bounds per-channel recent history.
const DefaultHistoryWindow = 10

// maxTrackedChannels caps how many channels keep a history window.
const maxTrackedChannels = 256

// PriorityTrigger escalates matching messages above passive priority.
type PriorityTrigger struct {
	// Substring matched case-insensitively against the redacted content.
	Substring string
	// Priority is PriorityHigh or PriorityCritical.
	Priority int
}

// Observer ingests inbound messages for one origin service.
type Observer struct {
	store         persistence.Store
	secrets       ports.SecretsService
	memory        ports.MemoryService
	originService string
	agentID       string
	waUserID      string
	windowSize    int
	triggers      []PriorityTrigger
	logger        logging.Logger

	history *lru.Cache[string, []ports.InboundMessage]
}

// Option customises an Observer.
type Option func(*Observer)

// WithHistoryWindow overrides the per-channel history bound.
func WithHistoryWindow(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.windowSize = n
		}
	}
}

// WithPriorityTriggers installs escalation triggers.
func WithPriorityTriggers(triggers ...PriorityTrigger) Option {
	return func(o *Observer) { o.triggers = append(o.triggers, triggers...) }
}

// WithWAUser marks the wise-authority user whose deferral-report replies
// become corrections.
func WithWAUser(userID string) Option {
	return func(o *Observer) { o.waUserID = userID }
}

// WithMemory wires an optional memory service for context recall.
func WithMemory(m ports.MemoryService) Option {
	return func(o *Observer) { o.memory = m }
}

// New builds an observer for one origin service. agentID identifies the
// agent's own messages so they are never observed.
func New(store persistence.Store, secrets ports.SecretsService, originService, agentID string,
	logger logging.Logger, opts ...Option) (*Observer, error) {
	o := &Observer{
		store:         store,
		secrets:       secrets,
		originService: originService,
		agentID:       agentID,
		windowSize:    DefaultHistoryWindow,
		logger:        logging.OrNop(logger),
	}
	for _, fn := range opts {
		fn(o)
	}
	cache, err := lru.New[string, []ports.InboundMessage](maxTrackedChannels)
	if err != nil {
		return nil, fmt.Errorf("observer history cache: %w", err)
	}
	o.history = cache
	return o, nil
}

// History returns the bounded recent history for a channel, oldest first.
func (o *Observer) History(channelID string) []ports.InboundMessage {
	window, _ := o.history.Get(channelID)
	return window
}

// HandleMessage ingests one inbound message: skip the agent's own, redact
// secrets, record history, route WA corrections, and otherwise create an
// observation task with its seed thought.
func (o *Observer) HandleMessage(ctx context.Context, msg ports.InboundMessage) error {
	if msg.IsAgent || msg.AuthorID == o.agentID {
		return nil
	}

	redacted, secretRefs, err := o.secrets.ProcessIncomingText(ctx, msg.Content, "observation", msg.MessageID)
	if err != nil {
		o.logger.Warn("Observer: secrets filter failed for message %s, using raw content: %v", msg.MessageID, err)
		redacted = msg.Content
	}
	msg.Content = redacted
	o.remember(msg)

	if msg.ReplyToID != "" && o.waUserID != "" && msg.AuthorID == o.waUserID {
		handled, err := o.handleCorrection(ctx, msg)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	priority := o.classify(redacted)
	return o.createObservation(ctx, msg, priority, secretRefs)
}

// remember appends the message to the channel's bounded window.
func (o *Observer) remember(msg ports.InboundMessage) {
	window, _ := o.history.Get(msg.ChannelID)
	window = append(window, msg)
	if len(window) > o.windowSize {
		window = window[len(window)-o.windowSize:]
	}
	o.history.Add(msg.ChannelID, window)
}

// classify maps content onto an observation priority via the configured
// triggers. No match means passive.
func (o *Observer) classify(content string) int {
	lowered := strings.ToLower(content)
	priority := PriorityPassive
	for _, trig := range o.triggers {
		if trig.Substring == "" || !strings.Contains(lowered, strings.ToLower(trig.Substring)) {
			continue
		}
		if trig.Priority > priority {
			priority = trig.Priority
		}
	}
	return priority
}

// createObservation persists the observation task plus its seed thought.
func (o *Observer) createObservation(ctx context.Context, msg ports.InboundMessage, priority int, secretRefs []model.SecretReference) error {
	taskCtx := model.TaskContext{
		ChannelID:     msg.ChannelID,
		AuthorID:      msg.AuthorID,
		AuthorName:    msg.AuthorName,
		OriginService: o.originService,
		Extras:        map[string]any{"message_id": msg.MessageID},
	}
	task := &model.Task{
		TaskID:      ids.NewTaskID(),
		Description: fmt.Sprintf("Respond to message from %s in channel %s: %s", msg.AuthorName, msg.ChannelID, msg.Content),
		Priority:    priority,
		Status:      model.TaskPending,
		Context:     taskCtx,
	}
	if err := o.store.AddTask(ctx, task); err != nil {
		return fmt.Errorf("create observation task: %w", err)
	}

	thoughtCtx := model.ThoughtContext{
		ChannelID:          msg.ChannelID,
		AuthorID:           msg.AuthorID,
		AuthorName:         msg.AuthorName,
		OriginService:      o.originService,
		InitialTaskContext: &taskCtx,
	}
	if len(secretRefs) > 0 {
		thoughtCtx.Extras = map[string]any{"detected_secrets": secretRefs}
	}
	if recalled := o.recallContext(ctx, msg); len(recalled) > 0 {
		if thoughtCtx.Extras == nil {
			thoughtCtx.Extras = map[string]any{}
		}
		thoughtCtx.Extras["recalled_context"] = recalled
	}
	th := &model.Thought{
		ThoughtID:    ids.NewThoughtID(),
		SourceTaskID: task.TaskID,
		ThoughtType:  model.ThoughtTypeObservation,
		Content:      fmt.Sprintf("Observed message from %s: %s", msg.AuthorName, msg.Content),
		Status:       model.ThoughtPending,
		Priority:     priority,
		Context:      thoughtCtx,
	}
	if err := o.store.AddThought(ctx, th); err != nil {
		return fmt.Errorf("seed observation thought: %w", err)
	}
	o.logger.Debug("Observer: observation task %s (priority %d) for message %s", task.TaskID, priority, msg.MessageID)
	return nil
}

// recallContext pulls remembered facts about the message author so the seed
// thought carries what the agent already knows. Best-effort: no memory
// service, no author, or a recall failure just means no extra context.
func (o *Observer) recallContext(ctx context.Context, msg ports.InboundMessage) []map[string]any {
	if o.memory == nil || msg.AuthorName == "" {
		return nil
	}
	nodes, err := o.memory.Recall(ctx, ports.MemoryNode{Scope: model.ScopeLocal, Key: msg.AuthorName})
	if err != nil {
		o.logger.Warn("Observer: context recall for %s failed: %v", msg.AuthorName, err)
		return nil
	}
	recalled := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		recalled = append(recalled, map[string]any{
			"key":      node.Key,
			"scope":    string(node.Scope),
			"metadata": node.Metadata,
		})
	}
	return recalled
}

// handleCorrection reroutes a WA reply to a deferral report back onto the
// deferred task as a correction thought. Returns false when the reply does
// not resolve to a known deferral report.
func (o *Observer) handleCorrection(ctx context.Context, msg ports.InboundMessage) (bool, error) {
	report, err := o.store.GetDeferralReportContext(ctx, msg.ReplyToID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve deferral report for reply %s: %w", msg.ReplyToID, err)
	}

	task, err := o.store.GetTask(ctx, report.TaskID)
	if err != nil {
		return false, fmt.Errorf("load deferred task %s: %w", report.TaskID, err)
	}
	if task.Status == model.TaskDeferred {
		if err := o.store.UpdateTaskStatus(ctx, task.TaskID, model.TaskActive); err != nil {
			return false, fmt.Errorf("reactivate task %s: %w", task.TaskID, err)
		}
		o.logger.Info("Observer: WA correction reactivated task %s", task.TaskID)
	}

	th := &model.Thought{
		ThoughtID:       ids.NewThoughtID(),
		SourceTaskID:    report.TaskID,
		ParentThoughtID: report.ThoughtID,
		ThoughtType:     model.ThoughtTypeCorrection,
		Content:         fmt.Sprintf("Wise authority correction from %s: %s", msg.AuthorName, msg.Content),
		Status:          model.ThoughtPending,
		Priority:        PriorityHigh,
		Context: model.ThoughtContext{
			ChannelID:      task.Context.ChannelID,
			AuthorID:       msg.AuthorID,
			AuthorName:     msg.AuthorName,
			OriginService:  o.originService,
			IsWACorrection: true,
			WAAuthorID:     msg.AuthorID,
			WAAuthorName:   msg.AuthorName,
		},
	}
	if err := o.store.AddThought(ctx, th); err != nil {
		return false, fmt.Errorf("create correction thought: %w", err)
	}
	o.logger.Info("Observer: correction thought %s created for deferred thought %s", th.ThoughtID, report.ThoughtID)
	return true, nil
}
