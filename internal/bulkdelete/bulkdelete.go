// Package bulkdelete implements the BulkDeleter (spec §4.7): chunked SQL
// parameter batching, partial-failure reporting, and cascading cleanup
// across album editedAt timestamps and the external CDN cache.
//
// Grounded on the teacher's internal/api/batch_handler.go BatchDelete,
// generalized from a per-id loop into parallel chunked IN (...) batches
// with a failed[] partial-failure report. Deliberately not wrapped in a
// single transaction — filesystem effects are not rollbackable, and
// partial progress must be reportable to the caller (spec §4.7 closing
// note).
package bulkdelete

import (
	"sync"

	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/paths"
)

var log = logging.For("bulkdelete")

// Field is which column the caller identifies rows by.
type Field string

const (
	FieldID   Field = "id"
	FieldName Field = "name"
)

// MaxSQLVars is spec §4.7's MAX_SQL_VARS (SQLite's default bound).
const MaxSQLVars = 999

// Actor is the identity performing the delete; BulkDeleter scopes
// ordinary users to their own rows and lets moderators delete any row.
type Actor struct {
	UserID      uint64
	IsModerator bool
}

// CacheInvalidator evicts the Content-Disposition and album-render
// caches for an album touched by a deletion.
type CacheInvalidator interface {
	InvalidateAlbum(albumID uint64)
}

// CDNPurgeScheduler fire-and-forgets a cache purge for the given names
// (and, when applicable, their thumbnail URLs).
type CDNPurgeScheduler interface {
	Schedule(names []string)
}

type noopCache struct{}

func (noopCache) InvalidateAlbum(uint64) {}

type noopCDN struct{}

func (noopCDN) Schedule([]string) {}

// Deleter is the BulkDeleter.
type Deleter struct {
	conn      *gorm.DB
	paths     *paths.Paths
	cache     CacheInvalidator
	cdn       CDNPurgeScheduler
	chunkSize int
	thumbs    bool
}

// Option customizes a Deleter.
type Option func(*Deleter)

func WithCache(c CacheInvalidator) Option { return func(d *Deleter) { d.cache = c } }
func WithCDN(c CDNPurgeScheduler) Option   { return func(d *Deleter) { d.cdn = c } }
func WithThumbnails(enabled bool) Option   { return func(d *Deleter) { d.thumbs = enabled } }
func WithChunkSize(n int) Option {
	return func(d *Deleter) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// New constructs a Deleter rooted at conn/p.
func New(conn *gorm.DB, p *paths.Paths, opts ...Option) *Deleter {
	d := &Deleter{
		conn:      conn,
		paths:     p,
		cache:     noopCache{},
		cdn:       noopCDN{},
		chunkSize: MaxSQLVars,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Delete implements spec §4.7's full algorithm, returning every requested
// value that could not be deleted (not found, not owned, or a filesystem
// error).
func (d *Deleter) Delete(field Field, values []string, actor Actor) ([]string, error) {
	chunks := chunk(values, d.chunkSize)

	var mu sync.Mutex
	var failed []string
	touchedAlbums := map[uint64]struct{}{}
	var deletedNames []string

	var wg sync.WaitGroup
	errs := make([]error, len(chunks))
	for i, vals := range chunks {
		wg.Add(1)
		go func(i int, vals []string) {
			defer wg.Done()
			f, names, albums, err := d.deleteChunk(field, vals, actor)
			if err != nil {
				errs[i] = err
				return
			}
			mu.Lock()
			failed = append(failed, f...)
			deletedNames = append(deletedNames, names...)
			for a := range albums {
				touchedAlbums[a] = struct{}{}
			}
			mu.Unlock()
		}(i, vals)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if len(touchedAlbums) > 0 {
		ids := make([]uint64, 0, len(touchedAlbums))
		for id := range touchedAlbums {
			ids = append(ids, id)
		}
		now := model.NowUnix()
		if err := d.conn.Model(&model.Album{}).Where("id IN ?", ids).Update("edited_at", now).Error; err != nil {
			log.Error("failed to bump editedAt on touched albums", "err", err)
		}
		for _, id := range ids {
			d.cache.InvalidateAlbum(id)
		}
	}

	if len(deletedNames) > 0 {
		go d.cdn.Schedule(deletedNames)
	}

	return failed, nil
}

// deleteChunk handles one shard of at most chunkSize values, matching
// spec §4.7 step 1.
func (d *Deleter) deleteChunk(field Field, values []string, actor Actor) (failed, deletedNames []string, albums map[uint64]struct{}, err error) {
	albums = map[uint64]struct{}{}

	q := d.conn.Model(&model.File{}).Where(string(field)+" IN ?", values)
	if !actor.IsModerator {
		q = q.Where("userid = ?", actor.UserID)
	}

	var rows []model.File
	if err := q.Find(&rows).Error; err != nil {
		return nil, nil, nil, err
	}

	found := make(map[string]bool, len(rows))
	for _, r := range rows {
		found[keyOf(field, r)] = true
	}
	for _, v := range values {
		if !found[v] {
			failed = append(failed, v)
		}
	}

	var succeeded []model.File
	for _, r := range rows {
		if err := d.paths.RemoveUpload(r.Name); err != nil {
			log.Warn("failed to unlink file during bulk delete", "name", r.Name, "err", err)
			failed = append(failed, keyOf(field, r))
			continue
		}
		if d.thumbs {
			if err := d.paths.RemoveThumb(identifierOf(r.Name)); err != nil {
				log.Warn("failed to remove thumbnail during bulk delete", "name", r.Name, "err", err)
			}
		}
		succeeded = append(succeeded, r)
		if r.AlbumID != nil {
			albums[*r.AlbumID] = struct{}{}
		}
	}

	if len(succeeded) > 0 {
		ids := make([]uint64, 0, len(succeeded))
		for _, r := range succeeded {
			ids = append(ids, r.ID)
			deletedNames = append(deletedNames, r.Name)
		}
		if err := d.conn.Where("id IN ?", ids).Delete(&model.File{}).Error; err != nil {
			return failed, deletedNames, albums, err
		}
	}

	return failed, deletedNames, albums, nil
}

func keyOf(field Field, r model.File) string {
	if field == FieldName {
		return r.Name
	}
	return idString(r.ID)
}

func idString(id uint64) string {
	const digits = "0123456789"
	if id == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = digits[id%10]
		id /= 10
	}
	return string(buf[i:])
}

// identifierOf strips the extension from a committed file name to
// recover the bare identifier thumbnails are keyed by.
func identifierOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

func chunk(values []string, size int) [][]string {
	if size <= 0 {
		size = MaxSQLVars
	}
	var out [][]string
	for len(values) > 0 {
		n := size
		if n > len(values) {
			n = len(values)
		}
		out = append(out, values[:n])
		values = values[n:]
	}
	return out
}
