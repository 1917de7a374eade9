package store

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ListCharacters returns the whole collection. A missing or unreadable file
// is ErrRead, malformed content is ErrDecode.
func (s *Store) ListCharacters() ([]Character, error) {
	return s.listCharacters()
}

func (s *Store) listCharacters() ([]Character, error) {
	var chars []Character
	if err := readJSON(s.charactersPath(), &chars); err != nil {
		return nil, err
	}
	if chars == nil {
		chars = []Character{}
	}
	return chars, nil
}

func (s *Store) GetCharacter(id string) (*Character, error) {
	chars, err := s.listCharacters()
	if err != nil {
		return nil, err
	}
	for i := range chars {
		if chars[i].ID == id {
			return &chars[i], nil
		}
	}
	return nil, notFound(KindCharacter, id)
}

// UpsertCharacter replaces the record with the same id, or appends c.
func (s *Store) UpsertCharacter(c Character) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: character id is empty", ErrInvalidID)
	}

	s.charMu.Lock()
	defer s.charMu.Unlock()

	chars, err := s.listCharacters()
	if err != nil {
		return err
	}

	replaced := false
	for i := range chars {
		if chars[i].ID == c.ID {
			chars[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		chars = append(chars, c)
	}

	if err := writeJSON(s.charactersPath(), chars); err != nil {
		return err
	}
	s.log.Info().Str("id", c.ID).Bool("replaced", replaced).Msg("character saved")
	return nil
}

// DeleteCharacter removes the record, its image and every history whose
// character component is id, then persists the collection. Image and history
// cleanup are best-effort and recorded in the report; only the final write
// fails the call.
func (s *Store) DeleteCharacter(id string) (*DeleteReport, error) {
	s.charMu.Lock()
	defer s.charMu.Unlock()

	chars, err := s.listCharacters()
	if err != nil {
		return nil, err
	}

	var (
		removed   *Character
		remaining = make([]Character, 0, len(chars))
	)
	for i := range chars {
		if chars[i].ID == id {
			if removed == nil {
				removed = &chars[i]
			}
			continue
		}
		remaining = append(remaining, chars[i])
	}
	if removed == nil {
		return nil, notFound(KindCharacter, id)
	}

	report := &DeleteReport{Kind: KindCharacter, ID: id}
	report.Image = s.removeImage(KindCharacter, removed.Img)
	report.Histories = s.removeCharacterHistories(id)

	if err := writeJSON(s.charactersPath(), remaining); err != nil {
		return report, err
	}

	cerr := report.Err()
	level := zerolog.InfoLevel
	if cerr != nil {
		level = zerolog.WarnLevel
	}
	s.log.WithLevel(level).
		Str("id", id).
		Int("histories_removed", report.HistoriesRemoved()).
		AnErr("cleanup", cerr).
		Msg("character deleted")
	return report, nil
}
