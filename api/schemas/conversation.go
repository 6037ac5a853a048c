package schemas

// -- Conversation Schemas --

// Role tags a conversation message for the Decision Service.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImagePlaceholder replaces the payload of an expired screenshot part. The
// part itself stays in place so message ordering and roles are preserved for
// model context coherence.
const ImagePlaceholder = "[screenshot omitted to conserve context]"

// Part is a single content fragment of a message: either text or an embedded
// PNG screenshot. Exactly one of the two fields is populated.
type Part struct {
	Text  string `json:"text,omitempty"`
	Image []byte `json:"image,omitempty"`
}

// Message is one role-tagged entry of the conversation shown to the Decision
// Service.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// HasImage reports whether any part of the message still carries a live
// (non-placeholder) screenshot.
func (m *Message) HasImage() bool {
	for i := range m.Parts {
		if len(m.Parts[i].Image) > 0 {
			return true
		}
	}
	return false
}

// Conversation is the ordered message log sent to the Decision Service.
// Messages are append-only; image payloads are the only content ever mutated,
// and only by TrimImages.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// AppendText is a convenience for a single-part text message.
func (c *Conversation) AppendText(role Role, text string) {
	c.Append(Message{Role: role, Parts: []Part{{Text: text}}})
}

// LiveImageCount returns the number of messages still carrying a screenshot.
func (c *Conversation) LiveImageCount() int {
	n := 0
	for i := range c.Messages {
		if c.Messages[i].HasImage() {
			n++
		}
	}
	return n
}

// TrimImages enforces the image-retention invariant: at most maxRetained
// messages keep their screenshot; older screenshots are irreversibly replaced
// by ImagePlaceholder in place. Roles, positions, and text parts are left
// untouched. maxRetained <= 0 strips every screenshot.
func (c *Conversation) TrimImages(maxRetained int) {
	if maxRetained < 0 {
		maxRetained = 0
	}

	live := c.LiveImageCount()
	if live <= maxRetained {
		return
	}

	// Walk from the oldest message forward, collapsing until within bound.
	toCollapse := live - maxRetained
	for i := range c.Messages {
		if toCollapse == 0 {
			break
		}
		if !c.Messages[i].HasImage() {
			continue
		}
		for j := range c.Messages[i].Parts {
			if len(c.Messages[i].Parts[j].Image) > 0 {
				c.Messages[i].Parts[j].Image = nil
				c.Messages[i].Parts[j].Text = ImagePlaceholder
			}
		}
		toCollapse--
	}
}
