package gateway

import (
	"errors"
	"fmt"

	"github.com/stellarlinkco/companion/internal/store"
)

// AskRequest is the body of POST /ask. Memory is the recent conversation
// window, oldest first.
type AskRequest struct {
	Question    string              `json:"question"`
	CharacterID string              `json:"character_id"`
	UserID      string              `json:"user_id"`
	Model       string              `json:"model,omitempty"`
	Memory      []store.ChatMessage `json:"memory,omitempty"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

type ResetRequest struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
}

const (
	AckReset         = "conversation reset"
	AckCharacterSave = "character saved"

	unreadableBody = "<unreadable body>"
)

var (
	ErrTransport = errors.New("gateway unreachable")
	ErrGateway   = errors.New("gateway error")
	ErrDecode    = errors.New("gateway response malformed")
)

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s http %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrGateway
}
