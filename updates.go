package ydoc

import (
	"fmt"

	"github.com/signadot/ydoc/internal/store"
)

// MergeUpdates combines updates into a single update holding all of
// them. Structs whose dependencies none of the updates provide are left
// out.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	u, err := store.MergeUpdates(updates...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return u, nil
}

// DecodeStateVector returns the clock of every client in the encoded
// state vector sv.
func DecodeStateVector(sv []byte) (map[uint64]uint32, error) {
	v, err := store.DecodeStateVector(sv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return v, nil
}
