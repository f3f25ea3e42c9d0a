// Package albumzip implements the AlbumZipper (spec §4.9): on-demand
// album ZIP archives, coalesced across concurrent requesters of the same
// album via a process-wide identifier -> generator map, with freshness
// governed by zipGeneratedAt vs editedAt and a total-size guard.
//
// Grounded on the teacher's singleflight-by-hand pattern in
// internal/storage/compaction.go (one compaction per volume id at a
// time, guarded by a map+mutex rather than golang.org/x/sync/singleflight,
// per DESIGN.md's Open Question decision on AlbumZipper's in-flight set).
package albumzip

import (
	"archive/zip"
	"io"
	"os"
	"sync"

	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/paths"
)

var log = logging.For("albumzip")

// generation is the in-flight state for one album's rebuild: every
// waiter blocks on done and then reads err.
type generation struct {
	done chan struct{}
	err  error
}

// Zipper is the AlbumZipper.
type Zipper struct {
	conn         *gorm.DB
	paths        *paths.Paths
	maxTotalSize int64

	mu     sync.Mutex
	inight map[string]*generation
}

// New constructs a Zipper. maxTotalSize is spec §4.9's zipMaxTotalSize.
func New(conn *gorm.DB, p *paths.Paths, maxTotalSize int64) *Zipper {
	return &Zipper{
		conn:         conn,
		paths:        p,
		maxTotalSize: maxTotalSize,
		inight:       make(map[string]*generation),
	}
}

// Get returns the path to a ready, fresh ZIP file for the named album,
// building it first if necessary. Concurrent callers for the same
// identifier share one build (spec §4.9's single-flight).
func (z *Zipper) Get(identifier string) (string, error) {
	var album model.Album
	if err := z.conn.Where("identifier = ? AND enabled = ?", identifier, true).First(&album).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", apperr.Client(404, 40401, "album not found")
		}
		return "", apperr.Server("failed to load album", apperr.WithCause(err))
	}
	if !album.Public || !album.Download {
		return "", apperr.Client(403, 40301, "album downloads are not enabled")
	}

	zipPath := z.paths.ZipPath(identifier)
	if fresh(album, zipPath) {
		return zipPath, nil
	}

	gen := z.joinOrStart(identifier, album)
	<-gen.done
	if gen.err != nil {
		return "", gen.err
	}
	return zipPath, nil
}

// fresh reports whether the on-disk zip at zipPath is reusable per spec
// §4.9: zipGeneratedAt > editedAt and the file actually exists.
func fresh(album model.Album, zipPath string) bool {
	if album.ZipGeneratedAt <= album.EditedAt {
		return false
	}
	if _, err := os.Stat(zipPath); err != nil {
		return false
	}
	return true
}

// joinOrStart either attaches the caller to an in-flight build or starts
// a new one, all under one lock to avoid a race between two callers both
// seeing no in-flight generator.
func (z *Zipper) joinOrStart(identifier string, album model.Album) *generation {
	z.mu.Lock()
	if gen, ok := z.inight[identifier]; ok {
		z.mu.Unlock()
		return gen
	}

	gen := &generation{done: make(chan struct{})}
	z.inight[identifier] = gen
	z.mu.Unlock()

	go z.build(identifier, album, gen)
	return gen
}

// build runs one ZIP generation and clears the in-flight slot on both
// success and failure, per spec §4.9's failure semantics.
func (z *Zipper) build(identifier string, album model.Album, gen *generation) {
	defer func() {
		z.mu.Lock()
		delete(z.inight, identifier)
		z.mu.Unlock()
		close(gen.done)
	}()

	var files []model.File
	if err := z.conn.Where("albumid = ?", album.ID).Find(&files).Error; err != nil {
		gen.err = apperr.Server("failed to list album files", apperr.WithCause(err))
		return
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	if total > z.maxTotalSize {
		gen.err = apperr.Client(413, 40901, "album is too large to zip")
		return
	}

	tmpPath := z.paths.ZipPath(identifier) + ".tmp"
	if err := writeZip(tmpPath, z.paths, files); err != nil {
		_ = os.Remove(tmpPath)
		gen.err = apperr.Server("failed to build album zip", apperr.WithCause(err))
		return
	}

	finalPath := z.paths.ZipPath(identifier)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		gen.err = apperr.Server("failed to finalize album zip", apperr.WithCause(err))
		return
	}

	now := model.NowUnix()
	if err := z.conn.Model(&model.Album{}).Where("id = ?", album.ID).Update("zip_generated_at", now).Error; err != nil {
		log.Error("failed to stamp zipGeneratedAt", "album", identifier, "err", err)
	}

	log.Info("album zip built", "album", identifier, "files", len(files), "bytes", total)
}

// writeZip streams every file into a fresh archive at tmpPath. Errors
// leave the partial file for the caller to remove; no rename happens
// until this returns cleanly, satisfying spec §4.9's atomicity rule.
func writeZip(tmpPath string, p *paths.Paths, files []model.File) error {
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addZipEntry(zw, p.UploadPath(f.Name), f.Original); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, srcPath, entryName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(entryName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// Invalidate removes a cached zip immediately, used when an album is
// renamed or deleted outright rather than merely edited.
func (z *Zipper) Invalidate(identifier string) {
	if err := z.paths.RemoveZip(identifier); err != nil {
		log.Warn("failed to remove cached album zip", "album", identifier, "err", err)
	}
}
