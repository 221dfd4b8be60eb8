package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const answerPromptTemplate = `Answer the question based on the context below.

Context:
%s

Question: %s
`

// BuildAnswerPrompt embeds the retrieved context and the question verbatim.
func BuildAnswerPrompt(contextText, question string) string {
	return fmt.Sprintf(answerPromptTemplate, contextText, question)
}

type Synthesizer struct {
	gen     IGenerator
	timeout time.Duration
}

func NewSynthesizer(gen IGenerator, timeout time.Duration) *Synthesizer {
	return &Synthesizer{gen: gen, timeout: timeout}
}

func (s *Synthesizer) Answer(ctx context.Context, contextText, question string) (string, error) {
	if s == nil || s.gen == nil {
		return "", ErrUnavailable
	}
	return s.generateText(ctx, BuildAnswerPrompt(contextText, question))
}

func (s *Synthesizer) generateText(ctx context.Context, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ctxErr, err)
		}
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}
