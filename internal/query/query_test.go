package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_FreeTextBecomesLikeOnOriginal(t *testing.T) {
	compiled, err := Compile("vacation", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "original LIKE ?")
	assert.Equal(t, []any{"vacation"}, compiled.Args)
}

func TestCompile_ExcludedFreeTextUsesNotLike(t *testing.T) {
	compiled, err := Compile("-vacation", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "original NOT LIKE ?")
}

func TestCompile_UserScopeSuppressedUnlessModeratorListingAll(t *testing.T) {
	compiled, err := Compile("user:5", Caller{IsModerator: false}, Limits{})
	require.NoError(t, err)
	assert.Empty(t, compiled.Where)

	compiled, err = Compile("user:5", Caller{IsModerator: true, ListAll: true}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "userid = ?")
	assert.Contains(t, compiled.Args, "5")
}

func TestCompile_AlbumScopeSuppressedWithinAlbum(t *testing.T) {
	compiled, err := Compile("albumid:3", Caller{WithinAlbum: true}, Limits{})
	require.NoError(t, err)
	assert.Empty(t, compiled.Where)

	compiled, err = Compile("albumid:3", Caller{WithinAlbum: false}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "albumid")
}

func TestCompile_NullAwareEqualsHandlesDashAsNull(t *testing.T) {
	compiled, err := Compile("albumid:-", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "albumid IS NULL")
}

func TestCompile_IsCategoryExpandsToExtensionList(t *testing.T) {
	compiled, err := Compile("is:image", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "name LIKE ?")
	assert.Contains(t, compiled.Args, "%.png")
}

func TestCompile_UnknownIsCategoryErrors(t *testing.T) {
	_, err := Compile("is:bogus", Caller{}, Limits{})
	assert.Error(t, err)
}

func TestCompile_GlobWildcardsTranslateToSQLAndEscapeLiterals(t *testing.T) {
	compiled, err := Compile("type:image/*", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Args, "image/%")

	compiled, err = Compile("100%_done", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Args, `100\%\_done`)
}

func TestCompile_EnforcesPerRoleLimits(t *testing.T) {
	_, err := Compile("a b c", Caller{}, Limits{MaxTextQueries: 2})
	assert.Error(t, err)

	_, err = Compile("a b c", Caller{IsModerator: true}, Limits{MaxTextQueries: 2})
	assert.NoError(t, err)
}

func TestCompile_SortDefaultsToIDDescending(t *testing.T) {
	compiled, err := Compile("", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "id DESC", compiled.OrderBy)
}

func TestCompile_SortBySizeCastsToInteger(t *testing.T) {
	compiled, err := Compile("sort:size", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.OrderBy, "CAST(size AS INTEGER)")
}

func TestCompile_SortByUserIDSuppressedUnlessModeratorListingAll(t *testing.T) {
	compiled, err := Compile("sort:userid", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "id DESC", compiled.OrderBy)

	compiled, err = Compile("sort:userid", Caller{IsModerator: true, ListAll: true}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.OrderBy, "userid")
}

func TestCompile_RelativeDateRange(t *testing.T) {
	compiled, err := Compile("date:<24h", Caller{}, Limits{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Where, "timestamp >=")
}

func TestCompile_InvalidDurationErrors(t *testing.T) {
	_, err := Compile("date:<notaduration", Caller{}, Limits{})
	assert.Error(t, err)
}

func TestPaginate_PositiveOffsetMultipliesByPageSize(t *testing.T) {
	limit, offset := Paginate(50, 1000, 2)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 100, offset)
}

func TestPaginate_NegativeOffsetAddressesFromTail(t *testing.T) {
	// ceil(120/50) = 3 pages; offset -1 selects the last page (index 2).
	limit, offset := Paginate(50, 120, -1)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 100, offset)
}

func TestPaginate_NegativeOffsetClampsAtZero(t *testing.T) {
	limit, offset := Paginate(50, 10, -5)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)
}

func TestPaginate_ZeroOrNegativePageSizeDefaultsTo50(t *testing.T) {
	limit, _ := Paginate(0, 10, 0)
	assert.Equal(t, 50, limit)
}
