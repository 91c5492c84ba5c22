package sopflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput indicates model output that could not be decoded into
// the expected structure. It classifies as a structural failure: the run
// falls back to an escape-hatch response instead of retrying.
var ErrMalformedOutput = errors.New("malformed model output")

// This file is the single boundary between free-form model text and the
// structured values the rest of the engine consumes. Treat everything here as
// an untrusted-input decoder: values are clamped, unknown fields dropped, and
// any shape mismatch reported as ErrMalformedOutput.

// queryAnalysis is the decoded result of the query analysis call.
type queryAnalysis struct {
	Intent      string   `json:"intent"`
	Topics      []string `json:"topics"`
	Specificity string   `json:"specificity"`
}

// evidenceAssessment is the decoded result of the evidence assessment call.
type evidenceAssessment struct {
	Items []assessedDocument `json:"documents"`
	Gaps  []string           `json:"gaps"`
}

type assessedDocument struct {
	ID            string   `json:"id"`
	Relevant      bool     `json:"relevant"`
	Sections      []string `json:"sections"`
	KeyPoints     []string `json:"key_points"`
	Applicability string   `json:"applicability"`
	Confidence    float64  `json:"confidence"`
}

// factCheck is the decoded result of the fact checking call.
type factCheck struct {
	Claims []claimCheck `json:"claims"`
}

type claimCheck struct {
	Claim      string  `json:"claim"`
	Supported  bool    `json:"supported"`
	Confidence float64 `json:"confidence"`
}

// sourceValidation is the decoded result of the source validation call.
type sourceValidation struct {
	ConsistencyScore float64  `json:"consistency_score"`
	Conflicts        []string `json:"conflicts"`
}

func decodeQueryAnalysis(text string) (*queryAnalysis, error) {
	var result queryAnalysis
	if err := decodeObject(text, &result); err != nil {
		return nil, err
	}
	if result.Intent == "" {
		return nil, fmt.Errorf("%w: query analysis missing intent", ErrMalformedOutput)
	}
	return &result, nil
}

func decodeEvidenceAssessment(text string) (*evidenceAssessment, error) {
	var result evidenceAssessment
	if err := decodeObject(text, &result); err != nil {
		return nil, err
	}
	for i := range result.Items {
		result.Items[i].Confidence = clamp01(result.Items[i].Confidence)
	}
	return &result, nil
}

func decodeFactCheck(text string) (*factCheck, error) {
	var result factCheck
	if err := decodeObject(text, &result); err != nil {
		return nil, err
	}
	if len(result.Claims) == 0 {
		return nil, fmt.Errorf("%w: fact check returned no claims", ErrMalformedOutput)
	}
	for i := range result.Claims {
		result.Claims[i].Confidence = clamp01(result.Claims[i].Confidence)
	}
	return &result, nil
}

func decodeSourceValidation(text string) (*sourceValidation, error) {
	var result sourceValidation
	if err := decodeObject(text, &result); err != nil {
		return nil, err
	}
	result.ConsistencyScore = clamp01(result.ConsistencyScore)
	return &result, nil
}

// decodeQuestions accepts either a JSON array of strings or an object with a
// "questions" field.
func decodeQuestions(text string) ([]string, error) {
	payload, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var questions []string
	if err := json.Unmarshal(payload, &questions); err == nil {
		return nonEmpty(questions), nil
	}
	var wrapped struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nonEmpty(wrapped.Questions), nil
}

func decodeObject(text string, out any) error {
	payload, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// extractJSON pulls the first JSON object or array out of model text, which
// may wrap it in prose or markdown code fences.
func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	// Strip a markdown code fence if present
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON found", ErrMalformedOutput)
	}
	open := trimmed[start]
	var closing byte = '}'
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return []byte(trimmed[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: unterminated JSON", ErrMalformedOutput)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
