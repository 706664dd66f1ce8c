package session

import (
	"errors"

	ctxpkg "github.com/stupiduntilnot/windowchat/internal/context"
)

// UserMessage renders err as text for the person on the other end of the
// chat. The cause is kept so failures can be diagnosed from the chat alone.
func UserMessage(err error) string {
	var tErr *ctxpkg.TemplateError
	var tooLarge *ctxpkg.PromptTooLargeError
	switch {
	case errors.As(err, &tErr):
		return "Error loading model: " + err.Error() + ". Check the configured prompt template."
	case errors.As(err, &tooLarge):
		return "Error: your message is too long for the model context (" + err.Error() + ")."
	case errors.Is(err, ErrBusy):
		return "Still working on your previous message, please wait."
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrNotFound):
		return "This chat session has ended. Start a new one to continue."
	default:
		return "Error: " + err.Error()
	}
}
