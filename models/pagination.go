package models

// MessagePage is one page of a descending mailbox listing
type MessagePage struct {
	Messages []MessageSummary `json:"emails"`
	Total    uint32           `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	HasMore  bool             `json:"hasMore"`
}

// NewMessagePage creates an empty page, which is also what an absent mailbox lists as.
func NewMessagePage(page, pageSize int) *MessagePage {
	return &MessagePage{
		Messages: []MessageSummary{},
		Page:     page,
		PageSize: pageSize,
	}
}
