package schemas

import "fmt"

// -- Action Schemas --

// ActionType enumerates the closed set of browser operations the decision
// model may request. Unknown types fail the decode step, never the act step.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionHover       ActionType = "hover"
	ActionTypeText    ActionType = "type"
	ActionScroll      ActionType = "scroll"
	ActionWait        ActionType = "wait"
	ActionNavigate    ActionType = "navigate"
	ActionSearch      ActionType = "search"
	ActionGoBack      ActionType = "go_back"
	ActionExtractData ActionType = "extract_data"
	ActionSuccess     ActionType = "success"
	ActionStop        ActionType = "stop"
)

// knownActionTypes is the validation whitelist for decoded actions.
var knownActionTypes = map[ActionType]struct{}{
	ActionClick:       {},
	ActionHover:       {},
	ActionTypeText:    {},
	ActionScroll:      {},
	ActionWait:        {},
	ActionNavigate:    {},
	ActionSearch:      {},
	ActionGoBack:      {},
	ActionExtractData: {},
	ActionSuccess:     {},
	ActionStop:        {},
}

// Action is one decided browser operation. Element is a numeric label assigned
// by the page annotation pass; it is nil for actions that target the window or
// no element at all (a nil Element on a scroll action means "scroll the window").
type Action struct {
	Type      ActionType `json:"type"`
	Element   *int       `json:"element,omitempty"`
	Content   string     `json:"content,omitempty"`
	Reasoning string     `json:"reasoning"`
}

// Validate enforces the per-action field contract. A decision payload
// containing any invalid action is rejected as a whole.
func (a *Action) Validate() error {
	if _, ok := knownActionTypes[a.Type]; !ok {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if a.Reasoning == "" {
		return fmt.Errorf("action %q is missing reasoning", a.Type)
	}

	switch a.Type {
	case ActionClick:
		if a.Element == nil {
			return fmt.Errorf("click action requires an element index")
		}
	case ActionHover:
		if a.Element == nil {
			return fmt.Errorf("hover action requires an element index")
		}
	case ActionTypeText:
		if a.Element == nil {
			return fmt.Errorf("type action requires an element index")
		}
		if a.Content == "" {
			return fmt.Errorf("type action requires content")
		}
	case ActionScroll:
		if a.Content != ScrollUp && a.Content != ScrollDown {
			return fmt.Errorf("scroll action content must be %q or %q, got %q", ScrollUp, ScrollDown, a.Content)
		}
	case ActionNavigate:
		if a.Content == "" {
			return fmt.Errorf("navigate action requires a target URL in content")
		}
	}

	if a.Element != nil && *a.Element < 0 {
		return fmt.Errorf("element index must be non-negative, got %d", *a.Element)
	}
	return nil
}

// Scroll directions accepted in Action.Content for scroll actions.
const (
	ScrollUp   = "up"
	ScrollDown = "down"
)

// Label renders a compact serialized form of the action, used by the loop
// guard to compare consecutive steps.
func (a *Action) Label() string {
	if a.Element != nil {
		return fmt.Sprintf("%s[%d]:%s", a.Type, *a.Element, a.Content)
	}
	return fmt.Sprintf("%s:%s", a.Type, a.Content)
}

// Decision is one round-trip result from the Decision Service: the verbatim
// model output plus the validated action list decoded from it.
type Decision struct {
	// Raw preserves the exact model phrasing. It is appended to the
	// conversation as an assistant message and never re-parsed.
	Raw     string   `json:"-"`
	Actions []Action `json:"actions"`
}
