package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ListRecentChats derives one entry per non-empty history file, newest first.
// Files that cannot be read or decoded are skipped. If the character
// collection cannot be loaded, names fall back to raw ids.
func (s *Store) ListRecentChats() ([]RecentChat, error) {
	entries, err := os.ReadDir(s.historyRoot())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RecentChat{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, s.historyRoot(), err)
	}

	byID := map[string]Character{}
	if chars, err := s.listCharacters(); err != nil {
		s.log.Warn().Err(err).Msg("recent chats: character lookup unavailable")
	} else {
		for _, c := range chars {
			byID[c.ID] = c
		}
	}

	chats := make([]RecentChat, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		charID, personaID, ok := parseHistoryFileName(entry.Name())
		if !ok {
			continue
		}

		path := filepath.Join(s.historyRoot(), entry.Name())
		msgs, err := readHistoryFile(path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("recent chats: skipping history")
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		chat := RecentChat{
			CharacterID:   charID,
			PersonaID:     personaID,
			CharacterName: charID,
			LastUsed:      parseTimestamp(msgs[len(msgs)-1].Timestamp),
			MessageCount:  len(msgs),
		}
		if c, found := byID[charID]; found {
			chat.CharacterName = c.Name
			chat.CharacterImg = c.Img
		}
		chats = append(chats, chat)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		if a.CharacterID != b.CharacterID {
			return a.CharacterID < b.CharacterID
		}
		return a.PersonaID < b.PersonaID
	})
	return chats, nil
}

// parseTimestamp returns the zero time for empty or non-RFC 3339 input.
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
