// Package adapters carries the local-process implementations of the runtime's
// capability ports: a terminal communication sink, a JSON-lines audit log, a
// map-backed memory graph, pattern-based secrets redaction, and a store-backed
// filter service. Real deployments swap these for transport-specific services.
package adapters

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// ConsoleSink writes agent messages to a terminal and keeps a bounded record
// of what was sent so active observation has something to read back.
type ConsoleSink struct {
	out     io.Writer
	colored bool
	limit   int

	mu   sync.Mutex
	sent map[string][]ports.InboundMessage
}

// NewConsoleSink builds a sink writing to out. historyLimit bounds the
// per-channel sent record.
func NewConsoleSink(out io.Writer, colored bool, historyLimit int) *ConsoleSink {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ConsoleSink{
		out:     out,
		colored: colored,
		limit:   historyLimit,
		sent:    make(map[string][]ports.InboundMessage),
	}
}

// SendMessage implements ports.CommunicationSink.
func (s *ConsoleSink) SendMessage(_ context.Context, channelID string, content string, _ map[string]any) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("console sink: no channel")
	}
	prefix := fmt.Sprintf("[%s]", channelID)
	if s.colored {
		prefix = color.CyanString(prefix)
	}
	if _, err := fmt.Fprintf(s.out, "%s %s\n", prefix, content); err != nil {
		return "", fmt.Errorf("console sink: write: %w", err)
	}

	msgID := ids.NewMessageID()
	s.mu.Lock()
	window := append(s.sent[channelID], ports.InboundMessage{
		MessageID: msgID,
		ChannelID: channelID,
		Content:   content,
		IsAgent:   true,
	})
	if len(window) > s.limit {
		window = window[len(window)-s.limit:]
	}
	s.sent[channelID] = window
	s.mu.Unlock()
	return msgID, nil
}

// FetchMessages implements ports.CommunicationSink. A terminal has no
// independent history, so the sink returns its own recent sends.
func (s *ConsoleSink) FetchMessages(_ context.Context, channelID string, limit int) ([]ports.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.sent[channelID]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]ports.InboundMessage, len(window))
	copy(out, window)
	return out, nil
}

var _ ports.CommunicationSink = (*ConsoleSink)(nil)
