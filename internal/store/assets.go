package store

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SaveImage writes data as fileName in the collection's asset directory,
// creating the directory when needed, and returns the reference to store in
// the entity's img field. An existing file is overwritten.
func (s *Store) SaveImage(kind Kind, fileName string, data []byte) (string, error) {
	if kind != KindCharacter && kind != KindPersona {
		return "", fmt.Errorf("%w: unknown collection %q", ErrWrite, kind)
	}
	if !validFileName(fileName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, fileName)
	}

	dir := s.assetDir(kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
			return "", fmt.Errorf("%w: %s is not a directory", ErrDirectoryMissing, dir)
		}
		return "", fmt.Errorf("%w: create %s: %w", ErrWrite, dir, err)
	}

	dest := filepath.Join(dir, fileName)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWrite, dest, err)
	}

	s.log.Debug().Str("kind", string(kind)).Str("file", fileName).Int("bytes", len(data)).Msg("image saved")
	return path.Join("/", assetsDir, string(kind)+"s", fileName), nil
}

func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func isPlaceholder(ref string) bool {
	ref = strings.TrimSpace(ref)
	return ref == "" || path.Base(filepath.ToSlash(ref)) == PlaceholderImage
}

// removeImage deletes the file an img reference points at. Bare file names
// resolve inside the collection's asset directory; paths resolve against the
// data root and must stay inside it.
func (s *Store) removeImage(kind Kind, ref string) CleanupResult {
	if isPlaceholder(ref) {
		return CleanupResult{Path: ref, Skipped: true}
	}

	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(strings.TrimSpace(ref), "/")))
	var full string
	if filepath.Base(rel) == rel {
		full = filepath.Join(s.assetDir(kind), rel)
	} else {
		full = filepath.Join(s.root, rel)
	}

	inside, err := filepath.Rel(s.root, full)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return CleanupResult{Path: ref, Err: fmt.Errorf("image reference escapes data root")}
	}

	res := removeFile(full)
	if res.Err != nil {
		s.log.Warn().Err(res.Err).Str("kind", string(kind)).Str("path", full).Msg("image cleanup failed")
	}
	return res
}
