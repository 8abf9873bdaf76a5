package observer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/ports/mocks"
)

type redactingSecrets struct{}

func (redactingSecrets) ProcessIncomingText(_ context.Context, text, _, msgID string) (string, []model.SecretReference, error) {
	if !strings.Contains(text, "hunter2") {
		return text, nil, nil
	}
	redacted := strings.ReplaceAll(text, "hunter2", "[SECRET:pw]")
	return redacted, []model.SecretReference{{UUID: "pw", ContextHint: msgID}}, nil
}

func (redactingSecrets) ListAllSecrets(context.Context) ([]model.SecretReference, error) {
	return nil, nil
}

func (redactingSecrets) FilterConfigVersion(context.Context) (int, error) { return 1, nil }

func inbound(id, author, content string) ports.InboundMessage {
	return ports.InboundMessage{
		MessageID: id, ChannelID: "chan-1", AuthorID: author, AuthorName: author, Content: content,
	}
}

func newObserver(t *testing.T, store *persistence.MemStore, opts ...Option) *Observer {
	t.Helper()
	o, err := New(store, mocks.PassthroughSecrets{}, "discord", "agent_bot", nil, opts...)
	require.NoError(t, err)
	return o
}

func TestObserverCreatesPassiveObservation(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store)
	ctx := context.Background()

	require.NoError(t, o.HandleMessage(ctx, inbound("m1", "ada", "hello agent")))

	tasks, err := store.GetTasksByStatus(ctx, model.TaskPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, PriorityPassive, tasks[0].Priority)
	assert.Equal(t, "chan-1", tasks[0].Context.ChannelID)
	assert.Equal(t, "discord", tasks[0].Context.OriginService)

	thoughts, err := store.GetThoughtsByTaskID(ctx, tasks[0].TaskID)
	require.NoError(t, err)
	require.Len(t, thoughts, 1)
	assert.Equal(t, model.ThoughtTypeObservation, thoughts[0].ThoughtType)
	assert.Equal(t, model.ThoughtPending, thoughts[0].Status)
	assert.Contains(t, thoughts[0].Content, "hello agent")
}

func TestObserverSkipsOwnMessages(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store)
	ctx := context.Background()

	require.NoError(t, o.HandleMessage(ctx, ports.InboundMessage{
		MessageID: "m1", ChannelID: "chan-1", AuthorID: "agent_bot", Content: "my own echo"}))
	require.NoError(t, o.HandleMessage(ctx, ports.InboundMessage{
		MessageID: "m2", ChannelID: "chan-1", AuthorID: "someone", Content: "x", IsAgent: true}))

	count, err := store.CountTasks(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestObserverRedactsSecrets(t *testing.T) {
	store := persistence.NewMemStore()
	o, err := New(store, redactingSecrets{}, "discord", "agent_bot", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, o.HandleMessage(ctx, inbound("m1", "ada", "my password is hunter2")))

	tasks, _ := store.GetTasksByStatus(ctx, model.TaskPending)
	require.Len(t, tasks, 1)
	assert.NotContains(t, tasks[0].Description, "hunter2")
	assert.Contains(t, tasks[0].Description, "[SECRET:pw]")

	thoughts, _ := store.GetThoughtsByTaskID(ctx, tasks[0].TaskID)
	require.Len(t, thoughts, 1)
	refs, ok := thoughts[0].Context.Extras["detected_secrets"].([]model.SecretReference)
	require.True(t, ok)
	require.Len(t, refs, 1)
	assert.Equal(t, "pw", refs[0].UUID)
}

func TestObserverRecallsAuthorContext(t *testing.T) {
	store := persistence.NewMemStore()
	memory := mocks.NewFakeMemory()
	memory.Facts["ada"] = map[string]any{"nickname": "the countess"}
	o := newObserver(t, store, WithMemory(memory))
	ctx := context.Background()

	require.NoError(t, o.HandleMessage(ctx, inbound("m1", "ada", "hello again")))

	tasks, err := store.GetTasksByStatus(ctx, model.TaskPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	thoughts, err := store.GetThoughtsByTaskID(ctx, tasks[0].TaskID)
	require.NoError(t, err)
	require.Len(t, thoughts, 1)

	recalled, ok := thoughts[0].Context.Extras["recalled_context"].([]map[string]any)
	require.True(t, ok, "seed thought carries recalled facts")
	require.Len(t, recalled, 1)
	assert.Equal(t, "ada", recalled[0]["key"])
	meta, ok := recalled[0]["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "the countess", meta["nickname"])

	require.Len(t, memory.Calls, 1)
	assert.Equal(t, "recall", memory.Calls[0].Op)
	assert.Equal(t, "ada", memory.Calls[0].Key)

	// An author the agent has never met adds nothing.
	require.NoError(t, o.HandleMessage(ctx, inbound("m2", "stranger", "who are you")))
	tasks, err = store.GetTasksByStatus(ctx, model.TaskPending)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		if task.Context.ChannelID != "chan-1" {
			continue
		}
		ths, err := store.GetThoughtsByTaskID(ctx, task.TaskID)
		require.NoError(t, err)
		for _, th := range ths {
			if strings.Contains(th.Content, "who are you") {
				_, present := th.Context.Extras["recalled_context"]
				assert.False(t, present, "no recalled context for an unknown author")
			}
		}
	}
}

func TestObserverPriorityTriggers(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store,
		WithPriorityTriggers(
			PriorityTrigger{Substring: "urgent", Priority: PriorityHigh},
			PriorityTrigger{Substring: "emergency", Priority: PriorityCritical},
		))
	ctx := context.Background()

	require.NoError(t, o.HandleMessage(ctx, inbound("m1", "ada", "this is URGENT please")))
	require.NoError(t, o.HandleMessage(ctx, inbound("m2", "ada", "EMERGENCY and urgent both")))

	tasks, _ := store.GetTasksByStatus(ctx, model.TaskPending)
	require.Len(t, tasks, 2)
	priorities := map[int]bool{}
	for _, task := range tasks {
		priorities[task.Priority] = true
	}
	assert.True(t, priorities[PriorityHigh])
	assert.True(t, priorities[PriorityCritical], "highest matching trigger wins")
}

func TestObserverHistoryWindowBounded(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store, WithHistoryWindow(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, o.HandleMessage(ctx, inbound(fmt.Sprintf("m%d", i), "ada", fmt.Sprintf("msg %d", i))))
	}

	window := o.History("chan-1")
	require.Len(t, window, 3)
	assert.Equal(t, "msg 2", window[0].Content)
	assert.Equal(t, "msg 4", window[2].Content)
}

func TestWACorrectionReroutesDeferredThought(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store, WithWAUser("wa_user"))
	ctx := context.Background()

	// State the defer handler leaves behind: deferred task, deferred
	// thought, report mapping keyed by the outbound message id.
	require.NoError(t, store.AddTask(ctx, &model.Task{
		TaskID: "task_1", Description: "answer the question", Status: model.TaskDeferred,
		Context: model.TaskContext{ChannelID: "chan-1"}}))
	require.NoError(t, store.AddThought(ctx, &model.Thought{
		ThoughtID: "th_1", SourceTaskID: "task_1", Status: model.ThoughtDeferred}))
	require.NoError(t, store.SaveDeferralReport(ctx, persistence.DeferralReportContext{
		MessageID: "report_msg", TaskID: "task_1", ThoughtID: "th_1"}))

	msg := ports.InboundMessage{
		MessageID: "m9", ChannelID: "deferral-chan", AuthorID: "wa_user", AuthorName: "wa_user",
		Content: "The answer is 42, proceed.", ReplyToID: "report_msg"}
	require.NoError(t, o.HandleMessage(ctx, msg))

	task, _ := store.GetTask(ctx, "task_1")
	assert.Equal(t, model.TaskActive, task.Status, "deferred task reactivated")

	thoughts, _ := store.GetThoughtsByTaskID(ctx, "task_1")
	var correction *model.Thought
	for _, th := range thoughts {
		if th.ThoughtType == model.ThoughtTypeCorrection {
			correction = th
		}
	}
	require.NotNil(t, correction)
	assert.Equal(t, "th_1", correction.ParentThoughtID)
	assert.True(t, correction.Context.IsWACorrection)
	assert.Equal(t, "wa_user", correction.Context.WAAuthorID)
	assert.Equal(t, model.ThoughtPending, correction.Status)

	// No observation task was created for the correction reply.
	count, _ := store.CountTasks(ctx, model.TaskPending)
	assert.Zero(t, count)
}

func TestWAReplyToUnknownMessageFallsBackToObservation(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store, WithWAUser("wa_user"))
	ctx := context.Background()

	msg := ports.InboundMessage{
		MessageID: "m1", ChannelID: "chan-1", AuthorID: "wa_user", AuthorName: "wa_user",
		Content: "just chatting", ReplyToID: "not_a_report"}
	require.NoError(t, o.HandleMessage(ctx, msg))

	tasks, _ := store.GetTasksByStatus(ctx, model.TaskPending)
	assert.Len(t, tasks, 1)
}

func TestCLIObserverIngestsLines(t *testing.T) {
	store := persistence.NewMemStore()
	o := newObserver(t, store)
	cli := NewCLI(o, strings.NewReader("hello\n\nsecond line\n"), nil)

	require.NoError(t, cli.Run(context.Background()))

	tasks, _ := store.GetTasksByStatus(context.Background(), model.TaskPending)
	require.Len(t, tasks, 2, "blank lines ignored")
	for _, task := range tasks {
		assert.Equal(t, CLIChannelID, task.Context.ChannelID)
	}
}
