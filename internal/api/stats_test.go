package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlbumKey_FormatsWithPrefix(t *testing.T) {
	assert.Equal(t, "album:42", albumKey(42))
}

func TestInvalidateAlbum_EvictsCachedRender(t *testing.T) {
	s, _ := newTestServer(t)
	s.renderCache.Set(albumKey(7), []byte("cached"))

	s.InvalidateAlbum(7)

	_, ok := s.renderCache.Get(albumKey(7))
	assert.False(t, ok)
}

func TestInvalidateStats_ForcesStatsRecompute(t *testing.T) {
	s, _ := newTestServer(t)
	calls := 0
	_, _ = s.statsCache.Generate("global", func() (UploadStats, error) {
		calls++
		return UploadStats{Files: 1}, nil
	})

	s.InvalidateStats()

	_, _ = s.statsCache.Generate("global", func() (UploadStats, error) {
		calls++
		return UploadStats{Files: 2}, nil
	})

	assert.Equal(t, 2, calls)
}
