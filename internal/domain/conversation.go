package domain

// ConversationTurn is one completed user/assistant exchange. The caller owns
// conversation history and supplies it on every request; nothing is persisted
// server-side.
type ConversationTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}
