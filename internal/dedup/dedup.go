// Package dedup implements the Dedup/DBWriter component (spec §4.5): for
// each staged file, within one transaction, look up an existing row by
// (userid, hash, size) and short-circuit as a duplicate, or insert a new
// row; then update editedAt on every album the inserter actually owns and
// invalidate its cached renders; then schedule thumbnail generation.
//
// Grounded on the teacher's internal/storage/database.go transactional
// helpers (SaveFileMetadata/GetFileMetadata) generalized from a single
// insert-only path into the full dedup-then-insert-then-cascade flow.
package dedup

import (
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/paths"
)

var log = logging.For("dedup")

// StagedFile is a file that has already been written to disk, hashed, and
// (if required) passed scanning; it is the unit Commit operates on.
type StagedFile struct {
	Name     string
	Original string
	Type     string
	Size     int64
	Hash     string
	IP       *string
	UserID   *uint64
	AlbumID  *uint64
	AgeHours int
}

// Outcome is one committed result: either a freshly inserted row, or a
// reference to a pre-existing duplicate.
type Outcome struct {
	File      model.File
	Duplicate bool
}

// CacheInvalidator is implemented by the render/stats cache layer so
// dedup can invalidate without importing it directly.
type CacheInvalidator interface {
	InvalidateAlbum(albumID uint64)
	InvalidateStats()
}

// ThumbnailScheduler fire-and-forgets a thumbnail job for a newly
// inserted file.
type ThumbnailScheduler interface {
	Schedule(name string, mimeType string)
}

type noopCache struct{}

func (noopCache) InvalidateAlbum(uint64) {}
func (noopCache) InvalidateStats()       {}

type noopThumbs struct{}

func (noopThumbs) Schedule(string, string) {}

// Writer is the DBWriter.
type Writer struct {
	conn           *gorm.DB
	paths          *paths.Paths
	hashingEnabled bool
	thumbsEnabled  bool
	thumbExts      map[string]struct{}
	cache          CacheInvalidator
	thumbs         ThumbnailScheduler
}

// Option customizes a Writer.
type Option func(*Writer)

func WithCache(c CacheInvalidator) Option         { return func(w *Writer) { w.cache = c } }
func WithThumbnailer(t ThumbnailScheduler) Option  { return func(w *Writer) { w.thumbs = t } }
func WithThumbnailExts(exts map[string]struct{}) Option {
	return func(w *Writer) { w.thumbExts = exts }
}

// New constructs a Writer.
func New(conn *gorm.DB, p *paths.Paths, hashingEnabled, thumbsEnabled bool, opts ...Option) *Writer {
	w := &Writer{
		conn:           conn,
		paths:          p,
		hashingEnabled: hashingEnabled,
		thumbsEnabled:  thumbsEnabled,
		cache:          noopCache{},
		thumbs:         noopThumbs{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Commit persists every staged file, per spec §4.5's four steps.
func (w *Writer) Commit(staged []StagedFile) ([]Outcome, error) {
	outcomes := make([]Outcome, len(staged))
	touchedAlbums := map[uint64]struct{}{}
	insertedAny := false

	err := w.conn.Transaction(func(tx *gorm.DB) error {
		for i, sf := range staged {
			outcome, albumID, inserted, err := w.commitOne(tx, sf)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			if inserted {
				insertedAny = true
			}
			if albumID != nil {
				touchedAlbums[*albumID] = struct{}{}
			}
		}

		if len(touchedAlbums) > 0 {
			now := model.NowUnix()
			ids := make([]uint64, 0, len(touchedAlbums))
			for id := range touchedAlbums {
				ids = append(ids, id)
			}
			if err := tx.Model(&model.Album{}).Where("id IN ?", ids).Update("edited_at", now).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for albumID := range touchedAlbums {
		w.cache.InvalidateAlbum(albumID)
	}
	if insertedAny {
		w.cache.InvalidateStats()
	}

	for i, sf := range staged {
		if !outcomes[i].Duplicate && w.thumbsEnabled && w.isThumbnailable(sf.Name) {
			go w.thumbs.Schedule(sf.Name, sf.Type)
		}
	}

	return outcomes, nil
}

// commitOne performs step 1/2/3 of spec §4.5 for a single file. It
// returns the resulting outcome, the authorized album id to bump (nil if
// none), and whether a new row was inserted.
func (w *Writer) commitOne(tx *gorm.DB, sf StagedFile) (Outcome, *uint64, bool, error) {
	if w.hashingEnabled && sf.Hash != "" {
		existing, found, err := w.findDuplicate(tx, sf)
		if err != nil {
			return Outcome{}, nil, false, err
		}
		if found {
			if err := w.paths.RemoveUpload(sf.Name); err != nil {
				log.Warn("failed to remove staged duplicate from disk", "name", sf.Name, "err", err)
			}
			return Outcome{File: existing, Duplicate: true}, nil, false, nil
		}
	}

	albumID := w.authorizedAlbum(tx, sf)

	now := model.NowUnix()
	row := model.File{
		Name:      sf.Name,
		Original:  sf.Original,
		Type:      sf.Type,
		Size:      sf.Size,
		Hash:      sf.Hash,
		IP:        sf.IP,
		UserID:    sf.UserID,
		AlbumID:   albumID,
		Timestamp: now,
	}
	if sf.AgeHours > 0 {
		expiry := now + int64(sf.AgeHours)*3600
		row.ExpiryDate = &expiry
	}

	if err := tx.Create(&row).Error; err != nil {
		return Outcome{}, nil, false, err
	}

	return Outcome{File: row, Duplicate: false}, albumID, true, nil
}

func (w *Writer) findDuplicate(tx *gorm.DB, sf StagedFile) (model.File, bool, error) {
	q := tx.Model(&model.File{}).Where("hash = ? AND size = ?", sf.Hash, sf.Size)
	if sf.UserID != nil {
		q = q.Where("userid = ?", *sf.UserID)
	} else {
		q = q.Where("userid IS NULL")
	}

	var existing model.File
	err := q.First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return model.File{}, false, nil
	}
	if err != nil {
		return model.File{}, false, err
	}
	return existing, true, nil
}

// authorizedAlbum validates that sf.AlbumID, if set, belongs to sf.UserID
// and is enabled; otherwise it strips the association per spec §4.5 step 3.
func (w *Writer) authorizedAlbum(tx *gorm.DB, sf StagedFile) *uint64 {
	if sf.AlbumID == nil || sf.UserID == nil {
		return nil
	}

	var count int64
	err := tx.Model(&model.Album{}).
		Where("id = ? AND userid = ? AND enabled = ?", *sf.AlbumID, *sf.UserID, true).
		Count(&count).Error
	if err != nil || count == 0 {
		return nil
	}
	return sf.AlbumID
}

// isThumbnailable reports whether name's extension is one thumbnails are
// generated for, matching the gating thumbnail.Scheduler applies on its
// own side of the fire-and-forget call.
func (w *Writer) isThumbnailable(name string) bool {
	if w.thumbExts == nil {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := w.thumbExts[ext]
	return ok
}

// Now is not read by Writer, which takes its timestamps from
// model.NowUnix.
var Now = func() time.Time { return time.Now() }
