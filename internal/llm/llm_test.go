package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

func userMessage(content string) []ports.Message {
	return []ports.Message{
		{Role: "system", Content: "You are the agent."},
		{Role: "user", Content: content},
	}
}

func TestMockClientFillsEvaluationModels(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()
	msgs := userMessage("Thought (standard): hello there\n\ncontext follows")

	var ethical model.EthicalDMAResult
	_, err := c.CallStructured(ctx, msgs, &ethical, ports.StructuredOptions{})
	require.NoError(t, err)
	assert.Equal(t, "approve", ethical.Decision)

	var cs model.CSDMAResult
	_, err = c.CallStructured(ctx, msgs, &cs, ports.StructuredOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cs.PlausibilityScore, 0.001)

	var ds model.DSDMAResult
	_, err = c.CallStructured(ctx, msgs, &ds, ports.StructuredOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.85, ds.Score, 0.001)

	var epistemic model.EpistemicData
	_, err = c.CallStructured(ctx, msgs, &epistemic, ports.StructuredOptions{})
	require.NoError(t, err)
	assert.Less(t, epistemic.Entropy, 0.5)
	assert.Greater(t, epistemic.Coherence, 0.5)

	assert.EqualValues(t, 4, c.Calls())
}

func TestMockClientActionPolicy(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()

	var selection model.ActionSelectionResult
	_, err := c.CallStructured(ctx,
		userMessage("Thought (standard): what is the weather?\n\nTask: task_1"),
		&selection, ports.StructuredOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ActionSpeak, selection.SelectedAction)
	params, err := selection.SpeakParams()
	require.NoError(t, err)
	assert.Contains(t, params.Content, "what is the weather?")

	var followUp model.ActionSelectionResult
	_, err = c.CallStructured(ctx,
		userMessage("Thought (follow_up): SPEAK delivered for task task_1"),
		&followUp, ports.StructuredOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ActionTaskComplete, followUp.SelectedAction)
}

func TestDecodeStructuredRepairsNearJSON(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"strict", `{"decision": "approve", "rationale": "fine"}`, false},
		{"fenced", "```json\n{\"decision\": \"approve\", \"rationale\": \"fine\"}\n```", false},
		{"trailing comma", `{"decision": "approve", "rationale": "fine",}`, false},
		{"single quotes", `{'decision': 'approve', 'rationale': 'fine'}`, false},
		{"prose only", `I cannot answer that.`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out model.EthicalDMAResult
			err := decodeStructured(tc.content, &out)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "approve", out.Decision)
		})
	}
}
