package types

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ContentPartType identifies the kind of a message content part.
type ContentPartType string

const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type ContentPartType

	// Text is set for text parts.
	Text string

	// Image holds raw image bytes for image parts; MIMEType describes them.
	Image    []byte
	MIMEType string
}

// Message is a single chat message sent to or received from an LLM provider.
// Content is used for plain text messages; Parts, when present, take
// precedence and allow mixing text with images.
type Message struct {
	Role    MessageRole
	Content string
	Parts   []ContentPart
}

// NewMessage creates a text message with the given role.
func NewMessage(role MessageRole, content string) *Message {
	return &Message{Role: role, Content: content}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a user text message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewMultipartUserMessage creates a user message made of several parts.
func NewMultipartUserMessage(parts ...ContentPart) *Message {
	return &Message{Role: RoleUser, Parts: parts}
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentPartText, Text: text}
}

// ImagePart creates an image content part.
func ImagePart(data []byte, mimeType string) ContentPart {
	return ContentPart{Type: ContentPartImage, Image: data, MIMEType: mimeType}
}

// Text returns the concatenated text of the message, ignoring images.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == ContentPartText {
			out += p.Text
		}
	}
	return out
}

// HasImage reports whether any part is an image.
func (m *Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == ContentPartImage {
			return true
		}
	}
	return false
}

// TokenUsage contains token usage statistics from an LLM API call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelInfo describes the model behind a provider.
type ModelInfo struct {
	Provider  string
	Name      string
	MaxTokens int
	Metadata  map[string]interface{}
}
