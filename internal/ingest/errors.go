package ingest

import (
	"errors"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/chunk"
)

// mapChunkErr translates chunk-coordinator sentinel errors into the
// apperr taxonomy expected by the HTTP translator.
func mapChunkErr(err error) error {
	switch {
	case errors.Is(err, chunk.ErrSerializationConflict):
		return apperr.Client(409, 20010, "a chunk is already being written for this upload")
	case errors.Is(err, chunk.ErrNotFound):
		return apperr.Client(404, 20011, "chunk session not found or already expired")
	case errors.Is(err, chunk.ErrInvalidChunkCount):
		return apperr.Client(400, 20012, "Invalid chunks count")
	case errors.Is(err, chunk.ErrSizeMismatch):
		return apperr.Client(400, 20013, "finalized size does not match the expected size")
	case errors.Is(err, chunk.ErrTooLarge):
		return apperr.Client(413, 20014, "finalized file exceeds the maximum allowed size")
	default:
		return apperr.Server("chunk upload failed", apperr.WithCause(err))
	}
}
