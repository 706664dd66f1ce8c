package commander

// ResetCommand restarts the conversation of a chat.
const ResetCommand = "/reset"

// Commander is the chat transport used by the telegram loop.
type Commander interface {
	GetUpdates(offset int64, timeout int) ([]Update, error)
	SendMessage(chatID int64, text string) error
	// SendWithReset sends text with a button that answers ResetCommand.
	SendWithReset(chatID int64, text string) error
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Chat Chat    `json:"chat"`
	Text *string `json:"text,omitempty"`
	Date int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}
