// Package store persists characters, personas and per-conversation chat
// histories as JSON files under a single data root.
//
// Layout:
//
//	<root>/characters.json
//	<root>/personas.json
//	<root>/history/<characterID>_<personaID>.json
//	<root>/assets/characters/<file>
//	<root>/assets/personas/<file>
//
// Each collection file is rewritten whole on every mutation, through a
// temporary file and a rename, so a failed write never leaves a truncated
// collection behind. Mutations of one collection are serialized by a mutex.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	charactersFile = "characters.json"
	personasFile   = "personas.json"
	historyDir     = "history"
	assetsDir      = "assets"
)

type Store struct {
	root string
	log  zerolog.Logger
	now  func() time.Time

	// Lock order: characters before history.
	charMu    sync.Mutex
	personaMu sync.Mutex
	historyMu sync.Mutex
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the time source used to stamp appended messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(root string, opts ...Option) *Store {
	s := &Store{
		root: root,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

// Init creates the directory layout and seeds empty collections. Existing
// files are left untouched.
func (s *Store) Init() error {
	dirs := []string{
		s.root,
		filepath.Join(s.root, historyDir),
		s.assetDir(KindCharacter),
		s.assetDir(KindPersona),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrWrite, dir, err)
		}
	}

	for _, name := range []string{charactersFile, personasFile} {
		path := filepath.Join(s.root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeJSON(path, []struct{}{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) charactersPath() string { return filepath.Join(s.root, charactersFile) }
func (s *Store) personasPath() string   { return filepath.Join(s.root, personasFile) }
func (s *Store) historyRoot() string    { return filepath.Join(s.root, historyDir) }

func (s *Store) assetDir(kind Kind) string {
	return filepath.Join(s.root, assetsDir, string(kind)+"s")
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return nil
}

// rename is replaced in tests to simulate a failed replace.
var rename = os.Rename

// writeJSON replaces path with the indented encoding of v via a sibling
// temporary file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrWrite, path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	if err := rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	return nil
}
