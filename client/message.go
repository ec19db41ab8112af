package client

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one provider-agnostic chat turn.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either plain text or an ordered sequence of content
// parts. On the wire it serializes as a bare string or an array, matching
// the OpenAI-style message shape most providers accept in config files.
// Parts == nil means text content.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a string as plain text content.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// PartsContent wraps an ordered sequence of content parts.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text, c.Parts = text, nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Text, c.Parts = "", parts
	return nil
}

// text flattens the content to plain text, joining parts with blank lines.
func (c MessageContent) text() string {
	if c.Parts == nil {
		return c.Text
	}
	var texts []string
	for _, part := range c.Parts {
		if part.Type == ContentTypeText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Content part discriminators.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// ContentPart is one element of mixed message content: text or an image
// reference. The image URL is either a data: URI embedding a base64 payload
// or an external network URL.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image location.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImagePart builds an image content part from a data: URI or network URL.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: ContentTypeImageURL, ImageURL: &ImageURL{URL: url}}
}

// SendData carries one request's messages and sampling parameters. It is
// created once per call and consumed by exactly one body builder.
type SendData struct {
	Messages    []Message
	Temperature *float64
	TopP        *float64
	Stream      bool
}

// ExtractSystemMessage removes the leading system message and returns its
// text, for providers with a dedicated system field.
func ExtractSystemMessage(messages *[]Message) (string, bool) {
	if len(*messages) == 0 || (*messages)[0].Role != RoleSystem {
		return "", false
	}
	system := (*messages)[0].Content.text()
	*messages = (*messages)[1:]
	return system, true
}

// PatchSystemMessage folds the leading system message into the first user
// turn, for providers whose wire format has no system slot. The system text
// is prepended, separated by a blank line; if no turn follows, the system
// message is demoted to a user turn rather than dropped.
func PatchSystemMessage(messages *[]Message) {
	if len(*messages) == 0 || (*messages)[0].Role != RoleSystem {
		return
	}
	system := (*messages)[0]
	rest := (*messages)[1:]
	if len(rest) == 0 {
		*messages = []Message{{Role: RoleUser, Content: system.Content}}
		return
	}
	first := rest[0]
	if first.Role != RoleUser {
		*messages = append([]Message{{Role: RoleUser, Content: system.Content}}, rest...)
		return
	}
	systemText := system.Content.text()
	if first.Content.Parts == nil {
		first.Content = TextContent(systemText + "\n\n" + first.Content.Text)
	} else {
		parts := append([]ContentPart{TextPart(systemText)}, first.Content.Parts...)
		first.Content = PartsContent(parts...)
	}
	*messages = append([]Message{first}, rest[1:]...)
}

// splitDataURI splits a data: URI into its mime type and base64 payload.
// Returns ok=false for network URLs.
func splitDataURI(url string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	mimeType, data, found = strings.Cut(rest, ";base64,")
	if !found {
		return "", "", false
	}
	return mimeType, data, true
}
