package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	historyKeySep = "_"
	historyExt    = ".json"
)

func historyFileName(characterID, personaID string) string {
	return characterID + historyKeySep + personaID + historyExt
}

// parseHistoryFileName splits "<character>_<persona>.json". The character id
// is the first segment; everything after the first separator is the persona
// id, which may itself contain separators.
func parseHistoryFileName(name string) (characterID, personaID string, ok bool) {
	if !strings.HasSuffix(name, historyExt) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, historyExt), historyKeySep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s *Store) historyPath(characterID, personaID string) (string, error) {
	for _, id := range []string{characterID, personaID} {
		if strings.TrimSpace(id) == "" || !validFileName(id) {
			return "", fmt.Errorf("%w: history key %q/%q", ErrInvalidID, characterID, personaID)
		}
	}
	return filepath.Join(s.historyRoot(), historyFileName(characterID, personaID)), nil
}

// ReadHistory returns the conversation in order. A conversation that was never
// written is empty, not an error.
func (s *Store) ReadHistory(characterID, personaID string) ([]ChatMessage, error) {
	path, err := s.historyPath(characterID, personaID)
	if err != nil {
		return nil, err
	}
	return readHistoryFile(path)
}

func readHistoryFile(path string) ([]ChatMessage, error) {
	var msgs []ChatMessage
	if err := readJSON(path, &msgs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ChatMessage{}, nil
		}
		return nil, err
	}
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	return msgs, nil
}

// WriteHistory replaces the whole conversation.
func (s *Store) WriteHistory(characterID, personaID string, msgs []ChatMessage) error {
	path, err := s.historyPath(characterID, personaID)
	if err != nil {
		return err
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.writeHistoryFile(path, msgs)
}

func (s *Store) writeHistoryFile(path string, msgs []ChatMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrWrite, filepath.Dir(path), err)
	}
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	return writeJSON(path, msgs)
}

// AppendHistory adds msgs to the end of the conversation, stamping messages
// that carry no timestamp, and returns the full conversation.
func (s *Store) AppendHistory(characterID, personaID string, msgs ...ChatMessage) ([]ChatMessage, error) {
	path, err := s.historyPath(characterID, personaID)
	if err != nil {
		return nil, err
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	history, err := readHistoryFile(path)
	if err != nil {
		return nil, err
	}
	stamp := s.now().UTC().Format(time.RFC3339)
	for _, m := range msgs {
		if m.Timestamp == "" {
			m.Timestamp = stamp
		}
		history = append(history, m)
	}

	if err := s.writeHistoryFile(path, history); err != nil {
		return nil, err
	}
	return history, nil
}

// DeleteHistory removes the conversation. Deleting a missing one succeeds.
func (s *Store) DeleteHistory(characterID, personaID string) error {
	path, err := s.historyPath(characterID, personaID)
	if err != nil {
		return err
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	return nil
}

// removeCharacterHistories deletes every history keyed by characterID.
func (s *Store) removeCharacterHistories(characterID string) []CleanupResult {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	entries, err := os.ReadDir(s.historyRoot())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.log.Warn().Err(err).Str("character", characterID).Msg("history scan failed")
		return []CleanupResult{{Path: s.historyRoot(), Err: err}}
	}

	var results []CleanupResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		charID, _, ok := parseHistoryFileName(entry.Name())
		if !ok || charID != characterID {
			continue
		}
		res := removeFile(filepath.Join(s.historyRoot(), entry.Name()))
		if res.Err != nil {
			s.log.Warn().Err(res.Err).Str("path", res.Path).Msg("history cleanup failed")
		}
		results = append(results, res)
	}
	return results
}
