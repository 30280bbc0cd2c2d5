package domain

import (
	"strings"
	"time"
)

// Message is one inbound unit from the message source. Messages are read-only
// input: the pipeline never mutates or deletes them on the connector's side.
type Message struct {
	ID          string       `json:"id"`
	Sender      string       `json:"sender"`
	Timestamp   time.Time    `json:"timestamp"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	FromSelf    bool         `json:"from_self"`
}

// Attachment references binary content that stays on the connector's side.
// Path is a location handle, not ownership of the bytes.
type Attachment struct {
	Path      string `json:"path"`
	MimeType  string `json:"mime_type"`
	MessageID string `json:"message_id"`
}

// IsImage reports whether the declared media type makes the attachment
// eligible for receipt processing.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.MimeType)), "image/")
}
