// Package model defines the persistent row types: File, Album, and User.
// Generalized from the teacher's FileMetadata/VolumeInfo GORM models
// (internal/storage/models.go) into the richer file-hosting
// schema this service needs.
package model

import "time"

// File is a committed upload. name is the globally unique public
// identifier plus extension; hash/size back the dedup lookup
// (userid, hash, size); expirydate is nil for permanent uploads.
type File struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	Name       string  `gorm:"size:255;uniqueIndex"`
	Original   string  `gorm:"size:255"`
	Type       string  `gorm:"size:150"`
	Size       int64   `gorm:"not null"`
	Hash       string  `gorm:"size:64;index:idx_dedup"`
	IP         *string `gorm:"column:ip;size:64"`
	UserID     *uint64 `gorm:"column:userid;index:idx_dedup"`
	AlbumID    *uint64 `gorm:"column:albumid;index"`
	Timestamp  int64   `gorm:"not null;index"`
	ExpiryDate *int64  `gorm:"column:expirydate;index"`
}

func (File) TableName() string { return "files" }

// Album groups files under a public identifier.
type Album struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	Name            string `gorm:"size:255"`
	Identifier      string `gorm:"size:64;uniqueIndex"`
	UserID          uint64 `gorm:"column:userid;index:idx_album_owner_name"`
	Enabled         bool   `gorm:"index:idx_album_owner_name"`
	Public          bool   `gorm:"default:false"`
	Download        bool
	Description     string `gorm:"size:1024"`
	Timestamp       int64  `gorm:"not null"`
	EditedAt        int64  `gorm:"not null;index"`
	ZipGeneratedAt  int64  `gorm:"default:0"`
}

func (Album) TableName() string { return "albums" }

// Permission ranks. Regular users and moderators are ordinary ranks
// in between; SuperAdmin is reserved for the root user.
const (
	PermissionUser       = 1
	PermissionModerator  = 50
	PermissionSuperAdmin = 100
)

// RootUsername is reserved: it cannot be used for a new registration and
// the root row may not be renamed, disabled, or deleted through the API.
const RootUsername = "root"

// User is an account. Token is the unique opaque bearer credential
// checked against the `token` request header.
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:64;uniqueIndex"`
	Password     string `gorm:"size:255"`
	Token        string `gorm:"size:64;uniqueIndex"`
	Enabled      bool
	Permission   int    `gorm:"not null;default:1"`
	Timestamp    int64  `gorm:"not null"`
	Registration int64  `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// IsRoot reports whether u is the protected root superadmin account.
func (u *User) IsRoot() bool {
	return u.Username == RootUsername && u.Permission == PermissionSuperAdmin
}

// NowUnix is the single place the service reads wall-clock time for
// timestamp columns, so tests can stub it.
var NowUnix = func() int64 { return time.Now().Unix() }
