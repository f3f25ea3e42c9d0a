package api

import "strconv"

// UploadStats is the per-category shape the stats cache from spec §5
// memoizes: total files and total bytes for either "global" or a
// specific "user:<id>" category.
type UploadStats struct {
	Files int64
	Bytes int64
}

// InvalidateAlbum satisfies dedup.CacheInvalidator and
// bulkdelete.CacheInvalidator: it evicts any cached album render.
func (s *Server) InvalidateAlbum(albumID uint64) {
	s.renderCache.Evict(albumKey(albumID))
}

// InvalidateStats satisfies dedup.CacheInvalidator, per spec §4: "the
// upload-stats cache is invalidated on any new insertion."
func (s *Server) InvalidateStats() {
	s.statsCache.Invalidate("global")
}

func albumKey(id uint64) string {
	return "album:" + strconv.FormatUint(id, 10)
}
