package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
)

func TestConsoleSinkWritesAndRemembers(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, false, 2)
	ctx := context.Background()

	id1, err := sink.SendMessage(ctx, "cli", "hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)
	assert.Contains(t, buf.String(), "[cli] hello")

	_, err = sink.SendMessage(ctx, "cli", "second", nil)
	require.NoError(t, err)
	_, err = sink.SendMessage(ctx, "cli", "third", nil)
	require.NoError(t, err)

	msgs, err := sink.FetchMessages(ctx, "cli", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "history window is bounded")
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)
	assert.True(t, msgs[0].IsAgent)

	_, err = sink.SendMessage(ctx, "", "orphan", nil)
	assert.Error(t, err)

	empty, err := sink.FetchMessages(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRegexSecretsRedaction(t *testing.T) {
	s := NewRegexSecrets()
	ctx := context.Background()

	text := "my key is sk-abcdefghijklmnop1234 and password=hunter2secret"
	redacted, refs, err := s.ProcessIncomingText(ctx, text, "chat message", "msg-1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.NotContains(t, redacted, "sk-abcdefghijklmnop1234")
	assert.NotContains(t, redacted, "hunter2secret")
	assert.Contains(t, redacted, "{secret:api_key:")
	assert.Contains(t, redacted, "{secret:password_assignment:")

	kinds := map[string]bool{}
	for _, ref := range refs {
		assert.NotEmpty(t, ref.UUID)
		assert.Contains(t, ref.ContextHint, "msg-1")
		kinds[ref.SecretType] = true
	}
	assert.True(t, kinds["api_key"])
	assert.True(t, kinds["password_assignment"])

	all, err := s.ListAllSecrets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	clean, refs, err := s.ProcessIncomingText(ctx, "nothing sensitive here", "chat message", "")
	require.NoError(t, err)
	assert.Equal(t, "nothing sensitive here", clean)
	assert.Empty(t, refs)
}

func TestLocalMemoryRecallAndCorrection(t *testing.T) {
	m := NewLocalMemory("I am an agent.")
	ctx := context.Background()

	require.NoError(t, m.Memorize(ctx, "favorite color", "cli", map[string]any{"value": "blue"}, false))
	require.NoError(t, m.Memorize(ctx, "favorite color", "cli", map[string]any{"note": "user said so"}, false))

	hits, err := m.Recall(ctx, ports.MemoryNode{Scope: model.ScopeLocal, Key: "favorite color"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "blue", hits[0].Metadata["value"], "ordinary writes merge")
	assert.Equal(t, "user said so", hits[0].Metadata["note"])

	// Correction drops everything the node held before.
	require.NoError(t, m.Memorize(ctx, "favorite color", "cli", map[string]any{"value": "green"}, true))
	hits, err = m.Recall(ctx, ports.MemoryNode{Scope: model.ScopeLocal, Key: "favorite color"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "green", hits[0].Metadata["value"])
	assert.Nil(t, hits[0].Metadata["note"])

	// No exact match falls back to substring scan.
	hits, err = m.Recall(ctx, ports.MemoryNode{Scope: model.ScopeLocal, Key: "color"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.NoError(t, m.Forget(ctx, "favorite color", model.ScopeLocal, "cleanup"))
	hits, err = m.Recall(ctx, ports.MemoryNode{Scope: model.ScopeLocal, Key: "favorite color"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestJSONLinesAuditFormat(t *testing.T) {
	var buf bytes.Buffer
	a := NewJSONLinesAudit(&buf)
	ctx := context.Background()

	require.NoError(t, a.LogAction(ctx, "speak", map[string]any{"thought_id": "th1"}, "success"))
	require.NoError(t, a.LogAction(ctx, "defer", nil, "reported"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var entry struct {
		ActionType string         `json:"action_type"`
		Outcome    string         `json:"outcome"`
		Context    map[string]any `json:"context"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "speak", entry.ActionType)
	assert.Equal(t, "success", entry.Outcome)
	assert.Equal(t, "th1", entry.Context["thought_id"])
}

func TestStoreFilterDeduplicates(t *testing.T) {
	f := NewStoreFilter(persistence.NewMemStore())
	ctx := context.Background()

	added, err := f.AddFilterTrigger(ctx, "spam-pattern", "reject")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.AddFilterTrigger(ctx, "spam-pattern", "reject")
	require.NoError(t, err)
	assert.False(t, added, "duplicate is not an error")

	_, err = f.AddFilterTrigger(ctx, "", "reject")
	assert.Error(t, err)
}
