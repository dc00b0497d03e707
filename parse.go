package surveygen

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSONBlock is returned when a generation response carries no
	// fenced JSON block to extract the survey from.
	ErrNoJSONBlock = errors.New("no ```json block in response")

	// ErrNoQuestions is returned when the extraction response parses but
	// contains no question entries.
	ErrNoQuestions = errors.New("response contains no questions")
)

// SanitizeJSONResponse removes the code fences and stray whitespace models
// tend to wrap around JSON output.
func SanitizeJSONResponse(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}

// ParseQuestions validates the extraction response structurally and returns
// the normalized question list JSON. Accepted shapes are a top-level array
// or an object with a non-empty "questions" array.
func ParseQuestions(raw []byte) (json.RawMessage, error) {
	clean := SanitizeJSONResponse(raw)

	var asList []json.RawMessage
	if err := json.Unmarshal(clean, &asList); err == nil {
		if len(asList) == 0 {
			return nil, ErrNoQuestions
		}
		return clean, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(clean, &asObject); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	qs, ok := asObject["questions"]
	if !ok {
		return nil, ErrNoQuestions
	}
	if err := json.Unmarshal(qs, &asList); err != nil || len(asList) == 0 {
		return nil, ErrNoQuestions
	}
	return clean, nil
}

// ExtractFencedJSON pulls the first ```json ... ``` block out of a
// plain-text generation response.
func ExtractFencedJSON(text string) (string, error) {
	_, rest, found := strings.Cut(text, "```json")
	if !found {
		return "", ErrNoJSONBlock
	}
	block, _, found := strings.Cut(rest, "```")
	if !found {
		return "", ErrNoJSONBlock
	}
	return strings.TrimSpace(block), nil
}

// ParseSurvey extracts and structurally validates the SurveyJS definition
// from a generation response. The survey must be a JSON object with a
// non-empty "pages" array; its contents are not schema-validated.
func ParseSurvey(text string) (string, error) {
	block, err := ExtractFencedJSON(text)
	if err != nil {
		return "", err
	}

	var survey struct {
		Pages []json.RawMessage `json:"pages"`
	}
	if err := json.Unmarshal([]byte(block), &survey); err != nil {
		return "", fmt.Errorf("parse survey: %w", err)
	}
	if len(survey.Pages) == 0 {
		return "", errors.New("survey has no pages")
	}
	return block, nil
}
