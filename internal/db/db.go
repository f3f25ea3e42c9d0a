// Package db wraps the GORM connection, generalized from the teacher's
// internal/storage/database.go (Database wrapping *gorm.DB, AutoMigrate,
// masked-DSN logging) to the File/Album/User schema.
package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opsworld30/safe/internal/config"
	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/model"
)

var log = logging.For("db")

// DB wraps the underlying *gorm.DB connection.
type DB struct {
	Conn *gorm.DB
}

// Open connects, migrates, and (on an empty users table) recreates the
// root superadmin account, per spec §3's User lifecycle note.
func Open(dbType config.DatabaseType, dsn string) (*DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case config.DatabaseMySQL:
		dialector = mysql.Open(dsn)
		log.Info("connecting", "engine", "mysql", "dsn", maskPassword(dsn))
	case config.DatabaseSQLite:
		dialector = sqlite.Open(dsn)
		log.Info("connecting", "engine", "sqlite", "path", dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := conn.AutoMigrate(&model.File{}, &model.Album{}, &model.User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	d := &DB{Conn: conn}
	if err := d.ensureRootUser(); err != nil {
		return nil, err
	}

	log.Info("database ready", "engine", dbType)
	return d, nil
}

// ensureRootUser recreates the root account whenever the users table is
// empty, per spec §3: "Root user ... is re-created on empty users table".
func (d *DB) ensureRootUser() error {
	var count int64
	if err := d.Conn.Model(&model.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("failed to generate root token: %w", err)
	}

	now := model.NowUnix()
	root := &model.User{
		Username:     model.RootUsername,
		Password:     "",
		Token:        token,
		Enabled:      true,
		Permission:   model.PermissionSuperAdmin,
		Timestamp:    now,
		Registration: now,
	}
	if err := d.Conn.Create(root).Error; err != nil {
		return fmt.Errorf("failed to create root user: %w", err)
	}

	log.Warn("recreated root user with a fresh token; set its password before exposing the API", "token", token)
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func maskPassword(dsn string) string {
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-10:]
	}
	return "***"
}

// Close releases the underlying SQL connection.
func (d *DB) Close() error {
	sqlDB, err := d.Conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
