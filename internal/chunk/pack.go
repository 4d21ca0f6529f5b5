// Package chunk splits a byte range into fixed-size packs and transforms
// them concurrently with a small worker pool.
package chunk

import (
	"fmt"

	apperrors "filelocker/internal/errors"
)

// Pack is one contiguous byte range of the source. Claimed and Completed
// are only changed under the owning run's lock.
type Pack struct {
	Index     int
	Offset    int64
	Length    int64
	Claimed   bool
	Completed bool
}

// End returns the offset just past the pack.
func (p Pack) End() int64 {
	return p.Offset + p.Length
}

// BuildPacks divides [0, total) into ceil(total/packSize) packs. Every pack
// but the last is packSize long; the last carries the remainder. A zero
// total yields no packs.
func BuildPacks(total, packSize int64) ([]Pack, error) {
	if packSize <= 0 {
		return nil, apperrors.NewValidationError("packSize", fmt.Sprintf("must be positive, got %d", packSize))
	}
	if total < 0 {
		return nil, apperrors.NewValidationError("total", fmt.Sprintf("must not be negative, got %d", total))
	}

	count := (total + packSize - 1) / packSize
	packs := make([]Pack, count)
	for i := range packs {
		offset := int64(i) * packSize
		packs[i] = Pack{
			Index:  i,
			Offset: offset,
			Length: min(packSize, total-offset),
		}
	}
	return packs, nil
}
