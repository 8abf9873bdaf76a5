package observer

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// CLIChannelID is the channel all terminal input arrives on.
const CLIChannelID = "cli"

// CLIObserver feeds terminal lines into the base observer, one message per
// line.
type CLIObserver struct {
	base   *Observer
	input  io.Reader
	logger logging.Logger
}

// NewCLI wraps an observer around a line-oriented input stream.
func NewCLI(base *Observer, input io.Reader, logger logging.Logger) *CLIObserver {
	return &CLIObserver{base: base, input: input, logger: logging.OrNop(logger)}
}

// Run reads lines until EOF or context cancellation. Blank lines are
// ignored.
func (c *CLIObserver) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.input)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := ports.InboundMessage{
			MessageID:  ids.NewMessageID(),
			ChannelID:  CLIChannelID,
			AuthorID:   "local_user",
			AuthorName: "local_user",
			Content:    line,
		}
		if err := c.base.HandleMessage(ctx, msg); err != nil {
			c.logger.Error("CLI observer: message not ingested: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	c.logger.Info("CLI observer: input closed")
	return nil
}
