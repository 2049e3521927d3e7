package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeforge-dev/codeforge/services/providers"
	"go.uber.org/zap"
)

// Config holds bounds and toggles for input screening.
type Config struct {
	MaxPromptChars int
	MinPromptChars int
	BlockInjection bool
	BlockSecrets   bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPromptChars: 100000,
		MinPromptChars: 1,
		BlockInjection: true,
		BlockSecrets:   true,
	}
}

// Gate screens raw prompt text before any provider is contacted.
type Gate struct {
	cfg    Config
	logger *zap.Logger
}

// NewGate creates a gate with the given configuration.
func NewGate(cfg Config, logger *zap.Logger) *Gate {
	return &Gate{cfg: cfg, logger: logger}
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(the\s+)?system\s+prompt`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+in\s+developer\s+mode`),
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |PGP )?PRIVATE KEY`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
}

// Validate returns a *providers.ValidationError when the prompt must not
// reach any backend; nil otherwise.
func (g *Gate) Validate(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) < g.cfg.MinPromptChars {
		return &providers.ValidationError{Reason: "prompt is empty"}
	}
	if g.cfg.MaxPromptChars > 0 && len(prompt) > g.cfg.MaxPromptChars {
		return &providers.ValidationError{
			Reason: fmt.Sprintf("prompt exceeds %d characters", g.cfg.MaxPromptChars),
		}
	}

	if g.cfg.BlockInjection {
		for _, re := range injectionPatterns {
			if re.MatchString(prompt) {
				g.logger.Warn("prompt rejected by injection screen")
				return &providers.ValidationError{Reason: "prompt matches an injection pattern"}
			}
		}
	}

	if g.cfg.BlockSecrets {
		for _, re := range secretPatterns {
			if re.MatchString(prompt) {
				g.logger.Warn("prompt rejected by secret screen")
				return &providers.ValidationError{Reason: "prompt appears to contain a secret"}
			}
		}
	}

	return nil
}
