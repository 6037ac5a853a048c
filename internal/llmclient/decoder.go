package llmclient

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
)

var jsonStrict = jsoniter.Config{
	DisallowUnknownFields: true,
	CaseSensitive:         true,
}.Froze()

// DecodeDecision parses a raw model response into a validated Decision.
// The model occasionally wraps its JSON in a markdown fence despite the
// response MIME type; the fence is stripped before decoding. Any parse or
// validation failure collapses into a single malformed-decision error so the
// caller has exactly one failure mode to handle.
func DecodeDecision(raw string) (*schemas.Decision, error) {
	trimmed := stripFence(raw)

	var decision schemas.Decision
	if err := jsonStrict.UnmarshalFromString(trimmed, &decision); err != nil {
		return nil, fmt.Errorf("malformed decision: %w", err)
	}
	decision.Raw = raw

	if len(decision.Actions) == 0 {
		return nil, fmt.Errorf("malformed decision: empty action list")
	}
	for i, action := range decision.Actions {
		if err := action.Validate(); err != nil {
			return nil, fmt.Errorf("malformed decision: action %d: %w", i, err)
		}
	}
	return &decision, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
