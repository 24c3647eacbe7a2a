package pipeline

import (
	"errors"

	"github.com/YickelFuboo/OpenDeepWiki/internal/llm"
)

// ErrInvalidLLMOutput marks a completion that came back without the expected
// tagged payload. The model is flaky, not broken, so these retry.
var ErrInvalidLLMOutput = errors.New("invalid model output")

func stageRetryable(err error) bool {
	return llm.IsRetryable(err) || errors.Is(err, ErrInvalidLLMOutput)
}
