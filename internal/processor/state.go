// Package processor drives the agent's lifecycle states. Each state owns one
// specialized processor; all of them share the round engine that turns
// pending thoughts into dispatched actions.
package processor

import "context"

// AgentState names a lifecycle state of the runtime.
type AgentState string

const (
	StateShutdown AgentState = "SHUTDOWN"
	StateWakeup   AgentState = "WAKEUP"
	StateWork     AgentState = "WORK"
	StatePlay     AgentState = "PLAY"
	StateSolitude AgentState = "SOLITUDE"
	StateDream    AgentState = "DREAM"
)

// Processor is one state's per-round worker.
type Processor interface {
	// SupportedStates lists the lifecycle states this processor can own.
	SupportedStates() []AgentState
	// CanProcess reports whether the processor is currently able to handle
	// a round in the given state.
	CanProcess(state AgentState) bool
	// ProcessRound performs one round of work.
	ProcessRound(ctx context.Context) error
}
