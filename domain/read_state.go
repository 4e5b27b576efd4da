package domain

import "time"

// ReadState is a watermark: "read up to UptoID". It never moves backwards.
type ReadState struct {
	ConversationID ConversationID `json:"conversationId"`
	Reader         Identity       `json:"reader"`
	UptoID         uint64         `json:"uptoId"`
	ReadAt         time.Time      `json:"readAt"`
}

// Advance returns the new state and true only when upto is strictly newer.
// Out-of-order acknowledgements are dropped.
func (r ReadState) Advance(upto uint64, at time.Time) (ReadState, bool) {
	if upto <= r.UptoID {
		return r, false
	}
	r.UptoID = upto
	r.ReadAt = at
	return r, true
}

// Covers reports whether the message has been read by this reader.
func (r ReadState) Covers(messageID uint64) bool {
	return messageID != 0 && messageID <= r.UptoID
}

// TypingKey addresses one ephemeral typing entry.
type TypingKey struct {
	ConversationID ConversationID
	Identity       Identity
}
