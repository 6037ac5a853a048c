package schemas

import (
	"context"
	"errors"
	"time"
)

// ErrNotTypeable marks a type action whose target cannot receive text input
// (a button, checkbox, or similar). Runners surface it to the decision model
// as guidance rather than as a plain handler failure.
var ErrNotTypeable = errors.New("element is not a text input")

// ElementDigest describes one interactive element found by the annotation
// pass. Index is the stable numeric label the model uses to reference it.
type ElementDigest struct {
	Index     int    `json:"index"`
	Tag       string `json:"tag"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text,omitempty"`
	AriaLabel string `json:"ariaLabel,omitempty"`
}

// SessionContext is the browser surface a task runner drives. Implementations
// wrap a single isolated browsing context (one tab); a SessionContext is never
// shared across concurrent tasks.
type SessionContext interface {
	ID() string

	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error

	// Annotate tags every interactive element on the current page with a
	// stable lookup attribute and returns the element digests. It must be
	// reversible via ClearAnnotations.
	Annotate(ctx context.Context) ([]ElementDigest, error)
	// ClearAnnotations removes every annotation artifact, leaving the DOM
	// otherwise unchanged.
	ClearAnnotations(ctx context.Context) error

	Screenshot(ctx context.Context) ([]byte, error)

	Click(ctx context.Context, index int) error
	Hover(ctx context.Context, index int) error
	// Type rejects targets that cannot receive text with an error wrapping
	// ErrNotTypeable.
	Type(ctx context.Context, index int, text string) error
	ScrollWindow(ctx context.Context, direction string) error
	ScrollElement(ctx context.Context, index int, direction string) error
	ExtractText(ctx context.Context) (string, error)

	// WaitStable blocks until the page reaches a stable load state, then
	// holds for the settle delay.
	WaitStable(ctx context.Context, settle time.Duration) error

	Close(ctx context.Context) error
}

// DecisionClient is the boundary to the external vision model. Decide blocks
// on a full round-trip and returns either a schema-valid decision or an error;
// there is no partial result.
type DecisionClient interface {
	Decide(ctx context.Context, conv Conversation) (*Decision, error)
}
