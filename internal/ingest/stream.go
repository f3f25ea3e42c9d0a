package ingest

import (
	"errors"
	"io"
	"mime/multipart"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/chunk"
	"github.com/opsworld30/safe/internal/dedup"
	"github.com/opsworld30/safe/internal/scanner"
)

// IngestMultipart drives spec §4.3's "Stream intake (multipart)" over a
// raw *multipart.Reader, preserving field arrival order so that a `uuid`
// field seen before a `files[]` part selects chunk-append mode for that
// field, per spec §4.3 step 1 and the ordering guarantee in §4.3/§5.
//
// It returns the committed/duplicate results for any plain (non-chunk)
// file fields, plus the count of chunk-append fields that were routed to
// the ChunkCoordinator instead (which produce no result here — the
// caller finalizes them later via FinishChunks).
func (e *Engine) IngestMultipart(ctx RequestContext, mr *multipart.Reader) ([]Result, int, error) {
	var all []staged
	var bypassed []bool
	pendingUUID := ""
	fieldCount, fileCount, chunkAppends := 0, 0, 0

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.cleanupAll(all)
			return nil, 0, apperr.Client(400, 20000, "malformed multipart body")
		}

		name := part.FormName()
		if name == "" {
			continue
		}

		if part.FileName() != "" {
			fileCount++
			if fileCount > e.cfg.MaxFilesPerUpload {
				e.cleanupAll(all)
				return nil, 0, apperr.Client(400, 20002, "too many files in one upload")
			}

			if pendingUUID != "" {
				key := chunk.Key(ctx.ClientIP, pendingUUID)
				if err := e.chunks.Append(key, part); err != nil {
					e.cleanupAll(all)
					return nil, 0, mapChunkErr(err)
				}
				chunkAppends++
				pendingUUID = ""
				continue
			}

			sf, skip, err := e.ingestOneField(ctx, part)
			if err != nil {
				e.cleanupAll(all)
				return nil, 0, err
			}
			all = append(all, *sf)
			bypassed = append(bypassed, skip)
			continue
		}

		fieldCount++
		if fieldCount > e.cfg.MaxFieldsPerUpload {
			e.cleanupAll(all)
			return nil, 0, apperr.Client(400, 20003, "too many form fields")
		}
		val, _ := io.ReadAll(io.LimitReader(part, 256))
		switch normalizeFieldName(name) {
		case "uuid":
			pendingUUID = strings.TrimSpace(string(val))
		}
	}

	if len(all) == 0 {
		if chunkAppends > 0 {
			return nil, chunkAppends, nil
		}
		return nil, 0, apperr.Client(400, 20004, "no files uploaded")
	}

	if err := e.runScannerGate(all, bypassed); err != nil {
		e.cleanupAll(all)
		return nil, 0, err
	}

	if ctx.StripTags && e.cfg.AllowStripTags {
		if err := e.runStripTags(all); err != nil {
			e.cleanupAll(all)
			return nil, 0, err
		}
	}

	results, err := e.commit(all)
	return results, chunkAppends, err
}

// normalizeFieldName strips the `dz`-prefix some uploader clients use
// (`dzuuid`, `dzchunkindex`) per spec §4.3.
func normalizeFieldName(name string) string {
	name = strings.ToLower(name)
	name = strings.TrimPrefix(name, "dz")
	return name
}

// ingestOneField writes one fresh (non-chunk) file field to its final
// destination, hashing and optionally passthrough-scanning it in a single
// pass.
func (e *Engine) ingestOneField(ctx RequestContext, part *multipart.Part) (*staged, bool, error) {
	original := part.FileName()
	ext := extOf(original)
	if !e.allowedExtension(ext) {
		return nil, false, apperr.Client(400, 20005, "file extension not allowed: %s", ext)
	}

	hold, name, err := e.allocateDest(ctx, ext)
	if err != nil {
		return nil, false, err
	}
	defer hold.Release()

	destPath := e.paths.UploadPath(name)

	var passthrough scanner.PassthroughScanner
	bypassed := e.bypass.ShouldBypass(ctx.UserRank, ext, 0)
	if !bypassed {
		if ps, ok := e.scan.(scanner.PassthroughScanner); ok && ps.SupportsPassthrough() {
			passthrough = ps
		}
	}

	size, digest, verdict, err := e.writeAndHash(part, destPath, passthrough)
	if err != nil {
		return nil, false, err
	}

	if size > e.cfg.MaxSize {
		_ = os.Remove(destPath)
		return nil, false, apperr.Client(413, 20007, "file exceeds the maximum allowed size of %s", humanize.Bytes(uint64(e.cfg.MaxSize)))
	}
	if e.cfg.FilterEmptyFile && size == 0 {
		_ = os.Remove(destPath)
		return nil, false, apperr.Client(400, 20006, "empty files are not permitted")
	}
	if !bypassed && e.bypass.ShouldBypass(ctx.UserRank, ext, size) {
		bypassed = true
	}

	mimeType := detectMimeType(destPath, part.Header.Get("Content-Type"))

	var ip *string
	if e.cfg.StoreIPs && ctx.ClientIP != "" {
		v := ctx.ClientIP
		ip = &v
	}

	sf := &staged{
		tmpPath: destPath,
		StagedFile: dedup.StagedFile{
			Name:     name,
			Original: original,
			Type:     mimeType,
			Size:     size,
			Hash:     digest,
			IP:       ip,
			UserID:   ctx.UserID,
			AlbumID:  ctx.AlbumID,
			AgeHours: int(ctx.AgeHours),
		},
		alreadyScanned: passthrough != nil,
		verdict:        verdict,
	}
	return sf, bypassed, nil
}
