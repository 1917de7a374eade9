package store

import "time"

// PlaceholderImage is the image reference meaning "no custom image".
const PlaceholderImage = "placeholder.png"

// Kind names an entity collection.
type Kind string

const (
	KindCharacter Kind = "character"
	KindPersona   Kind = "persona"
)

type Character struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Tagline     string              `json:"tagline"`
	Description string              `json:"description"`
	Greeting    string              `json:"greeting"`
	Definition  string              `json:"definition"`
	Tags        map[string][]string `json:"tags"`
	Img         string              `json:"img"`
}

type Persona struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Background  string `json:"background"`
	Img         string `json:"img"`
}

// ChatMessage is one turn of a conversation. Timestamp is RFC 3339 when set.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// RecentChat is derived from a history file on every listing.
type RecentChat struct {
	CharacterID   string    `json:"character_id"`
	PersonaID     string    `json:"persona_id"`
	CharacterName string    `json:"character_name"`
	CharacterImg  string    `json:"character_img"`
	LastUsed      time.Time `json:"last_used"`
	MessageCount  int       `json:"message_count"`
}
