package adapters

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// secretPattern pairs a detector with the label stored on the reference.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

// Built-in detectors for the credential shapes most likely to land in chat.
var defaultSecretPatterns = []secretPattern{
	{kind: "api_key", re: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)},
	{kind: "bearer_token", re: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`)},
	{kind: "aws_access_key", re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{kind: "bot_token", re: regexp.MustCompile(`\b[MNO][A-Za-z\d_-]{23,25}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,}\b`)},
	{kind: "password_assignment", re: regexp.MustCompile(`(?i)\bpassword\s*[=:]\s*\S{6,}`)},
}

// RegexSecrets detects and redacts secrets with a fixed pattern set, keeping
// references so downstream components know something was removed without
// seeing it.
type RegexSecrets struct {
	patterns []secretPattern

	mu       sync.RWMutex
	detected map[string]model.SecretReference
	version  int
}

// NewRegexSecrets builds the pattern-based secrets filter.
func NewRegexSecrets() *RegexSecrets {
	return &RegexSecrets{
		patterns: defaultSecretPatterns,
		detected: make(map[string]model.SecretReference),
		version:  1,
	}
}

// ProcessIncomingText implements ports.SecretsService: every match is
// replaced by a reference marker and recorded.
func (s *RegexSecrets) ProcessIncomingText(_ context.Context, text string, contextHint string, sourceMessageID string) (string, []model.SecretReference, error) {
	var refs []model.SecretReference
	redacted := text
	for _, p := range s.patterns {
		redacted = p.re.ReplaceAllStringFunc(redacted, func(string) string {
			hint := contextHint
			if sourceMessageID != "" {
				hint = fmt.Sprintf("%s (message %s)", contextHint, sourceMessageID)
			}
			ref := model.SecretReference{
				UUID:        ids.NewCorrelationID(),
				SecretType:  p.kind,
				ContextHint: hint,
			}
			refs = append(refs, ref)
			s.mu.Lock()
			s.detected[ref.UUID] = ref
			s.mu.Unlock()
			return fmt.Sprintf("{secret:%s:%s}", p.kind, ref.UUID)
		})
	}
	return redacted, refs, nil
}

// ListAllSecrets implements ports.SecretsService.
func (s *RegexSecrets) ListAllSecrets(context.Context) ([]model.SecretReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SecretReference, 0, len(s.detected))
	for _, ref := range s.detected {
		out = append(out, ref)
	}
	return out, nil
}

// FilterConfigVersion implements ports.SecretsService.
func (s *RegexSecrets) FilterConfigVersion(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

var _ ports.SecretsService = (*RegexSecrets)(nil)
