package model

import "time"

// Recipient is a chat known to a campaign owner (bot). ChatID is the stable
// recipient identifier used everywhere in the campaign engine.
type Recipient struct {
	OwnerID   string
	ChatID    int64
	FirstName string
	Username  string
	Blocked   bool // flips when delivery fails permanently
	HasPaid   bool // derived from payments, filled by stores that join them
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatIDs returns the chat ids of rs in order.
func ChatIDs(rs []*Recipient) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ChatID)
	}
	return out
}
