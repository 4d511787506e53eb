package models

// OutgoingMessage is a message composed in the webmail UI
type OutgoingMessage struct {
	To          []string             `json:"to"`
	Cc          []string             `json:"cc"`
	Bcc         []string             `json:"bcc"`
	Subject     string               `json:"subject"`
	Text        string               `json:"text,omitempty"`
	HTML        string               `json:"html,omitempty"`
	InReplyTo   string               `json:"inReplyTo,omitempty"`
	References  []string             `json:"references,omitempty"`
	Attachments []OutgoingAttachment `json:"attachments,omitempty"`
}

// OutgoingAttachment is a file attached to an outgoing message
type OutgoingAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// SendResult acknowledges a delivered message
type SendResult struct {
	MessageID string   `json:"messageId"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected,omitempty"`
}
