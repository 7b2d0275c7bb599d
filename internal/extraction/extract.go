// Package extraction recovers a StructuredFeedback record from free-text model replies.
package extraction

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/jonathan/resume-analyzer/internal/schemas"
	"github.com/jonathan/resume-analyzer/internal/types"
)

// CandidateSpan returns the text between the first '{' and the last '}' inclusive.
// When no such span exists the whole text is returned.
func CandidateSpan(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// Extract parses model output into StructuredFeedback. Any parse or schema failure
// yields a MalformedAIOutput error; missing fields are never filled in.
func Extract(text string) (*types.StructuredFeedback, error) {
	candidate := strings.TrimSpace(CandidateSpan(text))
	if candidate == "" {
		return nil, types.NewError(types.KindMalformedAIOutput, "model returned no content", nil)
	}

	if err := schemas.ValidateFeedback(candidate); err != nil {
		var de *schemas.DocumentError
		if errors.As(err, &de) {
			return nil, types.NewError(types.KindMalformedAIOutput, "reply does not contain a JSON object", err)
		}
		return nil, types.NewError(types.KindMalformedAIOutput, "reply does not match the feedback format", err)
	}

	var feedback types.StructuredFeedback
	if err := json.Unmarshal([]byte(candidate), &feedback); err != nil {
		return nil, types.NewError(types.KindMalformedAIOutput, "failed to decode feedback", err)
	}
	return &feedback, nil
}
