package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
)

// CleanupResult is the outcome of one best-effort file removal.
type CleanupResult struct {
	Path    string
	Removed bool
	// Skipped is set when no removal was attempted (placeholder image,
	// empty reference, or the file was already gone).
	Skipped bool
	Err     error
}

// DeleteReport describes everything a delete touched. The delete itself
// succeeded if a report is returned; cleanup failures are only recorded.
type DeleteReport struct {
	Kind      Kind
	ID        string
	Image     CleanupResult
	Histories []CleanupResult
}

// Err merges the cleanup failures, or returns nil when cleanup was clean.
func (r *DeleteReport) Err() error {
	if r == nil {
		return nil
	}
	var result *multierror.Error
	if r.Image.Err != nil {
		result = multierror.Append(result, fmt.Errorf("image %s: %w", r.Image.Path, r.Image.Err))
	}
	for _, h := range r.Histories {
		if h.Err != nil {
			result = multierror.Append(result, fmt.Errorf("history %s: %w", h.Path, h.Err))
		}
	}
	return result.ErrorOrNil()
}

// HistoriesRemoved counts history files actually deleted.
func (r *DeleteReport) HistoriesRemoved() int {
	n := 0
	for _, h := range r.Histories {
		if h.Removed {
			n++
		}
	}
	return n
}

func removeFile(path string) CleanupResult {
	res := CleanupResult{Path: path}
	err := os.Remove(path)
	switch {
	case err == nil:
		res.Removed = true
	case errors.Is(err, os.ErrNotExist):
		res.Skipped = true
	default:
		res.Err = err
	}
	return res
}
