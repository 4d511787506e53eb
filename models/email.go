package models

import "time"

// MessageSummary is one row of a mailbox listing, built from envelope metadata only.
type MessageSummary struct {
	ID             string    `json:"id"`
	UID            uint32    `json:"uid"`
	MessageID      string    `json:"messageId"`
	FromAddress    string    `json:"fromAddress"`
	FromName       *string   `json:"fromName"`
	ToAddresses    []string  `json:"toAddresses"`
	CcAddresses    []string  `json:"ccAddresses"`
	Subject        string    `json:"subject"`
	IsRead         bool      `json:"isRead"`
	IsStarred      bool      `json:"isStarred"`
	HasAttachments bool      `json:"hasAttachments"`
	Size           uint32    `json:"size"`
	SentAt         time.Time `json:"sentAt"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// MessageContent is a fully downloaded and parsed message
type MessageContent struct {
	UID         uint32       `json:"uid"`
	MessageID   string       `json:"messageId"`
	FromAddress string       `json:"fromAddress"`
	FromName    *string      `json:"fromName"`
	ToAddresses []string     `json:"toAddresses"`
	CcAddresses []string     `json:"ccAddresses"`
	ReplyTo     *string      `json:"replyTo,omitempty"`
	Subject     string       `json:"subject"`
	BodyText    *string      `json:"bodyText"`
	BodyHTML    *string      `json:"bodyHtml"`
	Snippet     string       `json:"snippet"`
	InReplyTo   string       `json:"inReplyTo,omitempty"`
	Attachments []Attachment `json:"attachments"`
	SentAt      time.Time    `json:"sentAt"`
}

// Attachment describes a non-body MIME part; content is not retained.
type Attachment struct {
	Filename    string  `json:"filename"`
	ContentType string  `json:"contentType"`
	Size        int64   `json:"size"`
	ContentID   *string `json:"contentId,omitempty"`
}

// Folder is a server mailbox with its counters
type Folder struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Delimiter  string   `json:"delimiter"`
	SpecialUse string   `json:"specialUse,omitempty"`
	Attributes []string `json:"attributes"`
	Total      uint32   `json:"total"`
	Unseen     uint32   `json:"unseen"`
}
