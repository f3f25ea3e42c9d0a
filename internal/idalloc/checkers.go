package idalloc

import (
	"errors"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/model"
)

// FileNameChecker is the database-check mode (a) for files: it matches
// any existing row whose name starts with identifier followed by a dot,
// so that a file and its thumbnail/variant share one identifier safely.
// This is the recommended default per spec §4.1 whenever multiple
// extensions may share one identifier.
type FileNameChecker struct {
	Conn *gorm.DB
}

func (c FileNameChecker) Exists(identifier string) (bool, error) {
	var count int64
	err := c.Conn.Model(&model.File{}).
		Where("name LIKE ?", identifier+".%").
		Count(&count).Error
	return count > 0, err
}

// AlbumIdentifierChecker is the database-check mode (a) for albums: exact
// equality, since an album identifier carries no extension.
type AlbumIdentifierChecker struct {
	Conn *gorm.DB
}

func (c AlbumIdentifierChecker) Exists(identifier string) (bool, error) {
	var count int64
	err := c.Conn.Model(&model.Album{}).
		Where("identifier = ?", identifier).
		Count(&count).Error
	return count > 0, err
}

// FilesystemChecker is mode (b): test for any file named
// identifier+extension under uploadsRoot. Kept for completeness (e.g. a
// thumbnail-only deployment with no shared-identifier requirement), but
// mode (a) is the recommended default because it alone handles the
// shared-identifier/thumbnail-collision case correctly.
//
// Spec §9 Open Question (1): the legacy implementation this was ported
// from used `error & error.code !== 'ENOENT'` (bitwise AND) here, a latent
// bug that always evaluated falsy for any non-nil error object with a
// non-zero numeric value. The corrected predicate — stat failed for a
// reason other than "does not exist" — is implemented below.
type FilesystemChecker struct {
	UploadsRoot string
	Extension   string
}

func (c FilesystemChecker) Exists(identifier string) (bool, error) {
	_, err := os.Stat(filepath.Join(c.UploadsRoot, identifier+c.Extension))
	if err == nil {
		return true, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return false, nil
}
