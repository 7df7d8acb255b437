package memvault

import (
	"errors"
	"fmt"

	"github.com/hupe1980/memvault/store"
)

var (
	// ErrValidation is returned for rejected input: empty or
	// whitespace-only content, empty uid, oversized content or
	// metadata, malformed metadata JSON. These are expected,
	// recoverable conditions from untrusted callers.
	ErrValidation = errors.New("memvault: invalid input")

	// ErrNotFound is returned when no active memory matches (id, uid),
	// including rows owned by another user.
	ErrNotFound = errors.New("memvault: memory not found")

	// ErrDuplicateID is returned when adding an id that already exists
	// for the user, including soft-deleted rows that are not yet
	// purged.
	ErrDuplicateID = errors.New("memvault: memory id already exists")

	// ErrEmbedding is returned when the embedder fails during a
	// mutating operation. Nothing is persisted in that case.
	ErrEmbedding = errors.New("memvault: embedding failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("memvault: store is closed")
)

// translateError maps storage-layer errors onto the public sentinels
// so callers can branch with errors.Is. Unknown errors pass through as
// hard storage failures.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, store.ErrDuplicateID) {
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	}

	return err
}
