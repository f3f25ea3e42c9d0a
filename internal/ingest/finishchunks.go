package ingest

import (
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/chunk"
	"github.com/opsworld30/safe/internal/dedup"
)

// FinishChunkSpec is one element of the `/api/upload/finishchunks` body
// (spec §6): the client's UUID for a completed chunk session plus the
// original filename and, optionally, the expected final size, a
// per-file retention age override, and a target album.
type FinishChunkSpec struct {
	UUID     string
	Original string
	Size     *int64
	AgeHours float64
	AlbumID  *uint64
}

// FinishChunks implements spec §4.2 Finalize plus the shared post-stream
// commit path (§4.3): for each session, move the assembled temp file to
// its final identifier, then run the same scanner-gate / strip-tags /
// commit sequence as a plain upload.
func (e *Engine) FinishChunks(ctx RequestContext, specs []FinishChunkSpec) ([]Result, error) {
	var all []staged
	var bypassed []bool

	for _, spec := range specs {
		sf, skip, err := e.finishOne(ctx, spec)
		if err != nil {
			e.cleanupAll(all)
			return nil, err
		}
		all = append(all, *sf)
		bypassed = append(bypassed, skip)
	}

	if len(all) == 0 {
		return nil, apperr.Client(400, 20004, "no files uploaded")
	}

	if err := e.runScannerGate(all, bypassed); err != nil {
		e.cleanupAll(all)
		return nil, err
	}
	if ctx.StripTags && e.cfg.AllowStripTags {
		if err := e.runStripTags(all); err != nil {
			e.cleanupAll(all)
			return nil, err
		}
	}

	return e.commit(all)
}

func (e *Engine) finishOne(ctx RequestContext, spec FinishChunkSpec) (*staged, bool, error) {
	ext := extOf(spec.Original)
	if !e.allowedExtension(ext) {
		return nil, false, apperr.Client(400, 20005, "file extension not allowed: %s", ext)
	}

	hold, name, err := e.allocateDest(ctx, ext)
	if err != nil {
		return nil, false, err
	}
	defer hold.Release()

	key := chunk.Key(ctx.ClientIP, spec.UUID)
	destPath := e.paths.UploadPath(name)
	res, err := e.chunks.Finalize(key, spec.Size, destPath)
	if err != nil {
		return nil, false, mapChunkErr(err)
	}

	if res.Size > e.cfg.MaxSize {
		_ = e.paths.RemoveUpload(name)
		return nil, false, apperr.Client(413, 20007, "file exceeds the maximum allowed size of %s", humanize.Bytes(uint64(e.cfg.MaxSize)))
	}
	if e.cfg.FilterEmptyFile && res.Size == 0 {
		_ = e.paths.RemoveUpload(name)
		return nil, false, apperr.Client(400, 20006, "empty files are not permitted")
	}

	mimeType := detectMimeType(destPath, "")
	bypassed := e.bypass.ShouldBypass(ctx.UserRank, ext, res.Size)

	var ip *string
	if e.cfg.StoreIPs && ctx.ClientIP != "" {
		v := ctx.ClientIP
		ip = &v
	}

	age := ctx.AgeHours
	if spec.AgeHours > 0 {
		age = spec.AgeHours
	}
	albumID := ctx.AlbumID
	if spec.AlbumID != nil {
		albumID = spec.AlbumID
	}

	sf := &staged{
		tmpPath: destPath,
		StagedFile: dedup.StagedFile{
			Name:     name,
			Original: filepath.Base(spec.Original),
			Type:     mimeType,
			Size:     res.Size,
			Hash:     res.Hash,
			IP:       ip,
			UserID:   ctx.UserID,
			AlbumID:  albumID,
			AgeHours: int(age),
		},
	}
	return sf, bypassed, nil
}
