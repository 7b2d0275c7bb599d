package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Attachment is a document sent alongside the prompt
type Attachment struct {
	Ref      string // storage path of the uploaded document
	MIMEType string
	Data     []byte
}

// ChatOptions configures one chat request. Zero values fall back to the client config.
type ChatOptions struct {
	File        *Attachment
	Model       string
	Temperature *float32
}

// ContentPart is one element of a multi-part message
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content is a message body: either a plain string or a sequence of parts
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds string content
func TextContent(s string) Content {
	return Content{Text: s}
}

// PartsContent builds multi-part content
func PartsContent(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts}
}

// IsParts reports whether the content is the multi-part form
func (c Content) IsParts() bool {
	return c.Parts != nil
}

// FirstText returns the string content, or the text of the first part
func (c Content) FirstText() (string, error) {
	if !c.IsParts() {
		if c.Text == "" {
			return "", errors.New("message content is empty")
		}
		return c.Text, nil
	}
	if len(c.Parts) == 0 {
		return "", errors.New("message has no content parts")
	}
	first := c.Parts[0]
	if first.Type != "" && first.Type != "text" {
		return "", fmt.Errorf("first content part is %q, not text", first.Type)
	}
	if first.Text == "" {
		return "", errors.New("first content part has no text")
	}
	return first.Text, nil
}

// MarshalJSON encodes string content as a JSON string and parts as an array
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a JSON string or an array of parts
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = PartsContent(parts...)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message content must be a string or a list of parts: %w", err)
	}
	*c = TextContent(s)
	return nil
}

// Message is a chat message
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// ChatResponse is the reply to a chat request
type ChatResponse struct {
	Message Message `json:"message"`
	Model   string  `json:"model,omitempty"`
}
