package guardrails

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/model"
)

type fixedFaculty struct {
	data model.EpistemicData
	err  error
}

func (f fixedFaculty) Evaluate(context.Context, model.Thought, *model.ActionSelectionResult) (model.EpistemicData, error) {
	return f.data, f.err
}

func defaultCfg() config.GuardrailsConfig {
	return config.GuardrailsConfig{EntropyThreshold: 0.4, CoherenceThreshold: 0.6}
}

func speakResult(content string) *model.ActionSelectionResult {
	return model.MustActionResult(model.ActionSpeak, model.SpeakParams{Content: content}, "test")
}

func TestCheckPassesCleanSpeak(t *testing.T) {
	g := New(defaultCfg(), fixedFaculty{data: model.EpistemicData{Entropy: 0.1, Coherence: 0.9}}, nil, nil)

	thought := model.Thought{ThoughtID: "th_1", Content: "greet the user"}
	result, info := g.Check(context.Background(), thought, speakResult("hello"), nil, 5)

	assert.Equal(t, model.ActionSpeak, result.SelectedAction)
	assert.False(t, info.Overridden)
	assert.InDelta(t, 0.1, info.Epistemic.Entropy, 0.001)
}

func TestCheckOverridesHighEntropyToPonder(t *testing.T) {
	g := New(defaultCfg(), fixedFaculty{data: model.EpistemicData{Entropy: 0.9, Coherence: 0.9}}, nil, nil)

	thought := model.Thought{ThoughtID: "th_1", PonderCount: 0}
	result, info := g.Check(context.Background(), thought, speakResult("garbage"), nil, 5)

	assert.Equal(t, model.ActionPonder, result.SelectedAction)
	require.True(t, info.Overridden)
	require.NotNil(t, info.OriginalAction)
	assert.Equal(t, model.ActionSpeak, info.OriginalAction.SelectedAction)
	assert.Contains(t, info.OverrideReason, "entropy")

	params, err := result.PonderParams()
	require.NoError(t, err)
	require.NotEmpty(t, params.Questions)
}

func TestCheckOverridesLowCoherence(t *testing.T) {
	g := New(defaultCfg(), fixedFaculty{data: model.EpistemicData{Entropy: 0.1, Coherence: 0.2}}, nil, nil)

	result, info := g.Check(context.Background(), model.Thought{ThoughtID: "th_1"}, speakResult("?"), nil, 5)
	assert.Equal(t, model.ActionPonder, result.SelectedAction)
	assert.Contains(t, info.OverrideReason, "coherence")
}

func TestCheckEscalatesToDeferWhenPonderExhausted(t *testing.T) {
	g := New(defaultCfg(), fixedFaculty{data: model.EpistemicData{Entropy: 0.9, Coherence: 0.1}}, nil, nil)

	thought := model.Thought{ThoughtID: "th_1", PonderCount: 5}
	result, info := g.Check(context.Background(), thought, speakResult("noise"), nil, 5)

	assert.Equal(t, model.ActionDefer, result.SelectedAction)
	assert.True(t, info.Overridden)

	params, err := result.DeferParams()
	require.NoError(t, err)
	assert.Contains(t, params.Reason, "ponder budget exhausted")
}

func TestCheckBlocksNonPermittedAction(t *testing.T) {
	g := New(defaultCfg(), nil, nil, nil)

	toolResult := model.MustActionResult(model.ActionTool, model.ToolParams{ToolName: "sh"}, "test")
	permitted := []model.HandlerAction{model.ActionSpeak, model.ActionPonder, model.ActionDefer}

	result, info := g.Check(context.Background(), model.Thought{ThoughtID: "th_1"}, toolResult, permitted, 5)
	assert.Equal(t, model.ActionPonder, result.SelectedAction)
	require.True(t, info.Overridden)
	require.NotNil(t, info.OriginalAction)
	assert.Equal(t, model.ActionTool, info.OriginalAction.SelectedAction)
	assert.Contains(t, info.OverrideReason, "not permitted")
}

func TestCheckFacultyErrorPassesThrough(t *testing.T) {
	g := New(defaultCfg(), fixedFaculty{err: errors.New("faculty offline")}, nil, nil)

	result, info := g.Check(context.Background(), model.Thought{ThoughtID: "th_1"}, speakResult("hi"), nil, 5)
	assert.Equal(t, model.ActionSpeak, result.SelectedAction)
	assert.False(t, info.Overridden)
}

func TestCheckNonSpeakSkipsFaculty(t *testing.T) {
	// Faculty would fail every check; non-SPEAK actions never consult it.
	g := New(defaultCfg(), fixedFaculty{data: model.EpistemicData{Entropy: 1, Coherence: 0}}, nil, nil)

	ponder := model.MustActionResult(model.ActionPonder, model.PonderParams{Questions: []string{"q"}}, "test")
	result, info := g.Check(context.Background(), model.Thought{ThoughtID: "th_1"}, ponder, nil, 5)
	assert.Equal(t, model.ActionPonder, result.SelectedAction)
	assert.False(t, info.Overridden)
}

func TestHeuristicFaculty(t *testing.T) {
	f := HeuristicFaculty{}
	thought := model.Thought{Content: "please greet the visitor warmly"}

	coherent, err := f.Evaluate(context.Background(), thought, speakResult("Hello visitor, welcome! I will greet you warmly."))
	require.NoError(t, err)
	assert.Less(t, coherent.Entropy, 0.9)
	assert.GreaterOrEqual(t, coherent.Coherence, 0.6)

	empty, err := f.Evaluate(context.Background(), thought, speakResult(""))
	require.NoError(t, err)
	assert.Equal(t, 1.0, empty.Entropy)
	assert.Equal(t, 0.0, empty.Coherence)
}
