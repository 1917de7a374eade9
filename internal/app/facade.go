package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/companion/internal/gateway"
	"github.com/stellarlinkco/companion/internal/store"
	"github.com/stellarlinkco/companion/internal/supervisor"
)

const (
	msgServicesStarted   = "services started"
	msgServicesRunning   = "services already running"
	msgServicesUp        = "services operational"
	msgServicesUnhealthy = "services unavailable"

	roleUser      = "user"
	roleAssistant = "assistant"
)

// StartServices runs the full start sequence and blocks until it completes.
// A second call after success is a no-op.
func (a *App) StartServices(ctx context.Context) (string, error) {
	if a.supervisor.Running() {
		return msgServicesRunning, nil
	}
	if err := a.supervisor.StartAll(ctx); err != nil {
		return "", err
	}
	return msgServicesStarted, nil
}

func (a *App) ServiceStates() []supervisor.ServiceStatus {
	return a.supervisor.States()
}

// AskQuestion forwards a single question. The configured model is used when
// the request names none.
func (a *App) AskQuestion(ctx context.Context, req gateway.AskRequest) (*gateway.AskResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("ask: empty question")
	}
	if req.Model == "" {
		req.Model = a.cfg.Chat.Model
	}
	return a.gateway.Ask(ctx, req)
}

// ResetConversation clears the gateway's memory of the conversation, then the
// local history.
func (a *App) ResetConversation(ctx context.Context, characterID, personaID string) (string, error) {
	ack, err := a.gateway.Reset(ctx, gateway.ResetRequest{UserID: personaID, CharacterID: characterID})
	if err != nil {
		return "", err
	}
	if err := a.store.DeleteHistory(characterID, personaID); err != nil {
		return "", fmt.Errorf("reset local history: %w", err)
	}
	return ack, nil
}

// CheckServices returns the two-line health report.
func (a *App) CheckServices(ctx context.Context) string {
	return a.health.CheckAll(ctx).String()
}

// CheckServicesStatus condenses the report into one line.
func (a *App) CheckServicesStatus(ctx context.Context) string {
	if a.health.CheckAll(ctx).Healthy() {
		return msgServicesUp
	}
	return msgServicesUnhealthy
}

// SaveCharacter stores the character on the gateway.
func (a *App) SaveCharacter(ctx context.Context, c store.Character) (string, error) {
	return a.gateway.SaveCharacter(ctx, c)
}

func (a *App) LoadCharacters() ([]store.Character, error) {
	return a.store.ListCharacters()
}

func (a *App) LoadCharacterByID(id string) (*store.Character, error) {
	return a.store.GetCharacter(id)
}

// UpdateCharacter replaces the character with the same id, or adds it.
func (a *App) UpdateCharacter(c store.Character) error {
	return a.store.UpsertCharacter(c)
}

// DeleteCharacter also removes the character's image and histories. Cleanup
// problems are in the report; only the collection write is fatal.
func (a *App) DeleteCharacter(id string) (*store.DeleteReport, error) {
	return a.store.DeleteCharacter(id)
}

// CopyImageToPath stores a character image and returns its reference.
func (a *App) CopyImageToPath(fileName string, data []byte) (string, error) {
	return a.store.SaveImage(store.KindCharacter, fileName, data)
}

func (a *App) SavePersona(p store.Persona) error {
	return a.store.UpsertPersona(p)
}

func (a *App) LoadPersonas() ([]store.Persona, error) {
	return a.store.ListPersonas()
}

func (a *App) LoadPersonaByID(id string) (*store.Persona, error) {
	return a.store.GetPersona(id)
}

func (a *App) UpdatePersona(p store.Persona) error {
	return a.store.UpsertPersona(p)
}

func (a *App) DeletePersona(id string) (*store.DeleteReport, error) {
	return a.store.DeletePersona(id)
}

func (a *App) CopyImageToPersona(fileName string, data []byte) (string, error) {
	return a.store.SaveImage(store.KindPersona, fileName, data)
}

// ChatWithCharacter records the question, asks the gateway with the recent
// window as memory, and records the answer. A failed ask leaves the question
// recorded.
func (a *App) ChatWithCharacter(ctx context.Context, characterID, personaID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("chat: empty message")
	}
	if _, err := a.store.GetCharacter(characterID); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	history, err := a.store.AppendHistory(characterID, personaID, store.ChatMessage{Role: roleUser, Content: question})
	if err != nil {
		return "", fmt.Errorf("chat: record message: %w", err)
	}

	resp, err := a.gateway.Ask(ctx, gateway.AskRequest{
		Question:    question,
		CharacterID: characterID,
		UserID:      personaID,
		Model:       a.cfg.Chat.Model,
		Memory:      lastN(history, a.cfg.Chat.MemoryLimit),
	})
	if err != nil {
		return "", err
	}

	if _, err := a.store.AppendHistory(characterID, personaID, store.ChatMessage{Role: roleAssistant, Content: resp.Answer}); err != nil {
		return "", fmt.Errorf("chat: record answer: %w", err)
	}
	return resp.Answer, nil
}

func (a *App) LoadRecentChats() ([]store.RecentChat, error) {
	return a.store.ListRecentChats()
}

func (a *App) LoadChatHistory(characterID, personaID string) ([]store.ChatMessage, error) {
	return a.store.ReadHistory(characterID, personaID)
}

func (a *App) DeleteChatHistory(characterID, personaID string) error {
	return a.store.DeleteHistory(characterID, personaID)
}

func lastN(msgs []store.ChatMessage, n int) []store.ChatMessage {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
