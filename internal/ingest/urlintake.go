package ingest

import (
	"context"
	"errors"
	"os"
	"path"

	"github.com/dustin/go-humanize"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/dedup"
	"github.com/opsworld30/safe/internal/urlfetch"
)

// IngestURLs implements spec §4.3's "URL intake (JSON)": for each URL
// (bounded by MaxFilesPerUpload), fetch it through fetcher honoring the
// HEAD/GET size budget, re-derive and re-check the real extension, rename
// the provisional download into its final identifier, then run the same
// scanner-gate / strip-tags / commit sequence as any other intake.
func (e *Engine) IngestURLs(ctx context.Context, reqCtx RequestContext, fetcher *urlfetch.Fetcher, urls []string) ([]Result, error) {
	if len(urls) > e.cfg.MaxFilesPerUpload {
		return nil, apperr.Client(400, 20002, "too many URLs in one upload")
	}

	var all []staged
	var bypassed []bool

	for _, raw := range urls {
		sf, skip, err := e.fetchOne(ctx, reqCtx, fetcher, raw)
		if err != nil {
			e.cleanupAll(all)
			return nil, err
		}
		all = append(all, *sf)
		bypassed = append(bypassed, skip)
	}

	if len(all) == 0 {
		return nil, apperr.Client(400, 20004, "no URLs provided")
	}

	if err := e.runScannerGate(all, bypassed); err != nil {
		e.cleanupAll(all)
		return nil, err
	}
	if reqCtx.StripTags && e.cfg.AllowStripTags {
		if err := e.runStripTags(all); err != nil {
			e.cleanupAll(all)
			return nil, err
		}
	}

	return e.commit(all)
}

func (e *Engine) fetchOne(ctx context.Context, reqCtx RequestContext, fetcher *urlfetch.Fetcher, raw string) (*staged, bool, error) {
	hold, provisional, err := e.allocateDest(reqCtx, ".tmp")
	if err != nil {
		return nil, false, err
	}
	defer hold.Release()

	tmpPath := e.paths.UploadPath(provisional)
	res, err := fetcher.Fetch(ctx, raw, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		switch {
		case errors.Is(err, urlfetch.ErrTooLargeDeclared), errors.Is(err, urlfetch.ErrTooLargeActual):
			return nil, false, apperr.Client(413, 20020, "remote file exceeds the maximum allowed size of %s", humanize.Bytes(uint64(e.cfg.MaxSize)))
		default:
			return nil, false, apperr.Server("failed to fetch remote URL", apperr.WithCause(err))
		}
	}

	ext := res.Extension
	if ext == "" {
		ext = ".bin"
	}
	if !e.allowedExtension(ext) {
		_ = os.Remove(tmpPath)
		return nil, false, apperr.Client(400, 20005, "file extension not allowed: %s", ext)
	}

	finalName := hold.ID + ext
	finalPath := e.paths.UploadPath(finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, false, apperr.Server("failed to finalize downloaded file", apperr.WithCause(err))
	}

	if e.cfg.FilterEmptyFile && res.Size == 0 {
		_ = os.Remove(finalPath)
		return nil, false, apperr.Client(400, 20006, "empty files are not permitted")
	}

	mimeType := res.MimeType
	if mimeType == "" {
		mimeType = detectMimeType(finalPath, "")
	}
	bypassed := e.bypass.ShouldBypass(reqCtx.UserRank, ext, res.Size)

	var ip *string
	if e.cfg.StoreIPs && reqCtx.ClientIP != "" {
		v := reqCtx.ClientIP
		ip = &v
	}

	sf := &staged{
		tmpPath: finalPath,
		StagedFile: dedup.StagedFile{
			Name:     finalName,
			Original: path.Base(raw),
			Type:     mimeType,
			Size:     res.Size,
			Hash:     res.Hash,
			IP:       ip,
			UserID:   reqCtx.UserID,
			AlbumID:  reqCtx.AlbumID,
			AgeHours: int(reqCtx.AgeHours),
		},
	}
	return sf, bypassed, nil
}
