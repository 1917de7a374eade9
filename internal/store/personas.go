package store

import (
	"fmt"
	"strings"
)

func (s *Store) ListPersonas() ([]Persona, error) {
	return s.listPersonas()
}

func (s *Store) listPersonas() ([]Persona, error) {
	var personas []Persona
	if err := readJSON(s.personasPath(), &personas); err != nil {
		return nil, err
	}
	if personas == nil {
		personas = []Persona{}
	}
	return personas, nil
}

func (s *Store) GetPersona(id string) (*Persona, error) {
	personas, err := s.listPersonas()
	if err != nil {
		return nil, err
	}
	for i := range personas {
		if personas[i].ID == id {
			return &personas[i], nil
		}
	}
	return nil, notFound(KindPersona, id)
}

func (s *Store) UpsertPersona(p Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: persona id is empty", ErrInvalidID)
	}

	s.personaMu.Lock()
	defer s.personaMu.Unlock()

	personas, err := s.listPersonas()
	if err != nil {
		return err
	}

	replaced := false
	for i := range personas {
		if personas[i].ID == p.ID {
			personas[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		personas = append(personas, p)
	}

	if err := writeJSON(s.personasPath(), personas); err != nil {
		return err
	}
	s.log.Info().Str("id", p.ID).Bool("replaced", replaced).Msg("persona saved")
	return nil
}

// DeletePersona removes the record and its image. Histories that reference the
// persona are kept; recent-chat listing copes with the dangling id.
func (s *Store) DeletePersona(id string) (*DeleteReport, error) {
	s.personaMu.Lock()
	defer s.personaMu.Unlock()

	personas, err := s.listPersonas()
	if err != nil {
		return nil, err
	}

	var (
		removed   *Persona
		remaining = make([]Persona, 0, len(personas))
	)
	for i := range personas {
		if personas[i].ID == id {
			if removed == nil {
				removed = &personas[i]
			}
			continue
		}
		remaining = append(remaining, personas[i])
	}
	if removed == nil {
		return nil, notFound(KindPersona, id)
	}

	report := &DeleteReport{Kind: KindPersona, ID: id}
	report.Image = s.removeImage(KindPersona, removed.Img)

	if err := writeJSON(s.personasPath(), remaining); err != nil {
		return report, err
	}
	s.log.Info().Str("id", id).Msg("persona deleted")
	return report, nil
}
