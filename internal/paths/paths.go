// Package paths resolves and creates the on-disk layout from spec §6:
// uploads/, uploads/thumbs/, uploads/zips/, uploads/chunks/, and
// pages/error/. Grounded on the teacher's os.MkdirAll/filepath.Join
// bootstrap in storage.NewStore and Volume's path construction.
package paths

import (
	"os"
	"path/filepath"
)

// Paths holds the resolved directories under one storage root.
type Paths struct {
	Root    string
	Uploads string
	Thumbs  string
	Zips    string
	Chunks  string
	Errors  string
}

// New resolves all directories under root and creates them.
func New(root string) (*Paths, error) {
	p := &Paths{
		Root:    root,
		Uploads: filepath.Join(root, "uploads"),
		Thumbs:  filepath.Join(root, "uploads", "thumbs"),
		Zips:    filepath.Join(root, "uploads", "zips"),
		Chunks:  filepath.Join(root, "uploads", "chunks"),
		Errors:  filepath.Join(root, "pages", "error"),
	}

	for _, dir := range []string{p.Uploads, p.Thumbs, p.Zips, p.Chunks, p.Errors} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// UploadPath returns the on-disk path for a committed file name
// (identifier + extension).
func (p *Paths) UploadPath(name string) string {
	return filepath.Join(p.Uploads, name)
}

// ThumbPath returns the on-disk path for a file's thumbnail.
func (p *Paths) ThumbPath(identifier string) string {
	return filepath.Join(p.Thumbs, identifier+".png")
}

// ZipPath returns the on-disk path for an album's cached ZIP archive.
func (p *Paths) ZipPath(albumIdentifier string) string {
	return filepath.Join(p.Zips, albumIdentifier+".zip")
}

// ChunkSessionDir returns the session directory for a namespaced uuid
// (clientIP_clientUUID).
func (p *Paths) ChunkSessionDir(namespacedUUID string) string {
	return filepath.Join(p.Chunks, namespacedUUID)
}

// RemoveUpload deletes a committed file, scoped to the uploads directory
// so callers can never be tricked into deleting outside the storage root.
func (p *Paths) RemoveUpload(name string) error {
	err := os.Remove(p.UploadPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveThumb deletes a file's thumbnail, if any.
func (p *Paths) RemoveThumb(identifier string) error {
	err := os.Remove(p.ThumbPath(identifier))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveZip deletes an album's cached ZIP, if any.
func (p *Paths) RemoveZip(albumIdentifier string) error {
	err := os.Remove(p.ZipPath(albumIdentifier))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
