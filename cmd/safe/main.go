// Command safe is the service entrypoint: wires every collaborator built
// under internal/ into an *api.Server and serves it, plus operational
// subcommands (migrate, sweep-now) that reuse the same wiring.
//
// Grounded on the teacher's flag.String + startServer/waitForShutdown
// main.go, generalized from a single flat binary into a spf13/cobra
// (kdeps) command tree, per SPEC_FULL.md's ambient CLI surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsworld30/safe/internal/albumzip"
	"github.com/opsworld30/safe/internal/api"
	"github.com/opsworld30/safe/internal/auth"
	"github.com/opsworld30/safe/internal/bulkdelete"
	"github.com/opsworld30/safe/internal/cdn"
	"github.com/opsworld30/safe/internal/chunk"
	"github.com/opsworld30/safe/internal/config"
	"github.com/opsworld30/safe/internal/db"
	"github.com/opsworld30/safe/internal/dedup"
	"github.com/opsworld30/safe/internal/idalloc"
	"github.com/opsworld30/safe/internal/ingest"
	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/paths"
	"github.com/opsworld30/safe/internal/retention"
	"github.com/opsworld30/safe/internal/scanner"
	"github.com/opsworld30/safe/internal/sweep"
	"github.com/opsworld30/safe/internal/thumbnail"
	"github.com/opsworld30/safe/internal/urlfetch"
)

var mainLog = logging.For("main")

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "safe",
		Short: "file hosting service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(sweepNowCmd(&configPath))

	if err := root.Execute(); err != nil {
		mainLog.Fatal("command failed", "err", err)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			if app.cfg.Sweeper.Enabled {
				if err := app.sweeper.Start(app.cfg.Sweeper.Schedule); err != nil {
					return fmt.Errorf("starting sweeper: %w", err)
				}
				defer app.sweeper.Stop()
			}

			srv := &http.Server{
				Addr:    app.cfg.Server.Port,
				Handler: app.server.Mount(),
			}

			go func() {
				mainLog.Info("server starting", "addr", app.cfg.Server.Port)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					mainLog.Fatal("server failed", "err", err)
				}
			}()

			waitForShutdown(srv)
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Database.Type, cfg.GetDatabaseDSN())
			if err != nil {
				return err
			}
			mainLog.Info("migration complete")
			sqlDB, err := database.Conn.DB()
			if err == nil {
				sqlDB.Close()
			}
			return nil
		},
	}
}

func sweepNowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-now",
		Short: "run one retention sweep immediately and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			app.sweeper.RunNow()
			return nil
		},
	}
}

func waitForShutdown(srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	mainLog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		mainLog.Error("forced shutdown", "err", err)
	}
	mainLog.Info("server exited")
}

// application holds every wired collaborator, so serve/migrate/sweep-now
// all build the same dependency graph from one place.
type application struct {
	cfg      *config.Config
	database *db.DB
	server   *api.Server
	sweeper  *sweep.Sweeper
}

func (a *application) close() {
	if sqlDB, err := a.database.Conn.DB(); err == nil {
		sqlDB.Close()
	}
}

func bootstrap(configPath string) (*application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		mainLog.Warn("falling back to default config", "path", configPath, "err", err)
		cfg = config.Default()
	}

	database, err := db.Open(cfg.Database.Type, cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn := database.Conn

	p, err := paths.New(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage paths: %w", err)
	}

	hold := idalloc.NewOnHold()
	ids := idalloc.New(hold, 10)

	chunks := chunk.New(p, chunk.Config{
		IdleTimeout: time.Duration(cfg.Chunks.IdleTimeoutSec) * time.Second,
		MaxChunks:   cfg.Chunks.MaxChunks,
		MaxSize:     cfg.Uploads.MaxSize,
	})

	fetcher := urlfetch.New(urlfetch.Config{
		MaxSize:       cfg.Uploads.URLMaxSize,
		TotalBudget:   time.Duration(cfg.Uploads.URLFetchTimeoutSec) * time.Second,
		ProxyTemplate: cfg.Uploads.URLProxyTemplate,
	})

	zipper := albumzip.New(conn, p, cfg.Albums.ZipMaxTotalSize)
	purger := cdn.New(cdn.Config{
		Enabled:        cfg.CDN.Enabled,
		BaseURL:        cfg.CDN.BaseURL,
		APIToken:       cfg.CDN.APIToken,
		UserServiceKey: cfg.CDN.UserServiceKey,
		APIKey:         cfg.CDN.APIKey,
		Email:          cfg.CDN.Email,
		ChunkSize:      cfg.CDN.ChunkSize,
		MaxRetries:     cfg.CDN.MaxRetries,
	})

	failureLimiter := auth.NewFailureLimiter(cfg.Accounts.AuthFailureLimit, time.Duration(cfg.Accounts.AuthFailureWindowSec)*time.Second)
	authSvc := auth.New(conn, failureLimiter, cfg.Accounts.Enabled)
	retentionTable := retention.Build(cfg.Retention)

	thumbExts := toSet(defaultThumbExts())
	thumbs := thumbnail.New(p, thumbnail.NullGenerator{}, setToSlice(thumbExts), filepath.Join(p.Errors, "thumbnail-placeholder.png"))

	var sc scanner.Scanner = scanner.NullScanner{}
	bypass := scanner.BypassPolicy{
		BypassGroupRank: cfg.Scanner.BypassGroup,
		WhitelistExt:    toSet(cfg.Scanner.WhitelistExt),
		MaxScanSize:     cfg.Scanner.MaxScanSize,
	}

	// cacheRef forwards to the *api.Server's InvalidateAlbum/InvalidateStats
	// once it exists; dedup.Writer and bulkdelete.Deleter are constructed
	// before the server that implements their CacheInvalidator interface.
	cacheRef := &serverCacheRef{}

	deleter := bulkdelete.New(conn, p,
		bulkdelete.WithCache(cacheRef),
		bulkdelete.WithCDN(purger),
		bulkdelete.WithThumbnails(cfg.Uploads.ThumbnailsEnabled),
	)

	writer := dedup.New(conn, p, cfg.Uploads.HashingEnabled, cfg.Uploads.ThumbnailsEnabled,
		dedup.WithCache(cacheRef),
		dedup.WithThumbnailer(thumbnail.DedupAdapter{Scheduler: thumbs}),
		dedup.WithThumbnailExts(thumbExts),
	)

	engine := ingest.New(ingest.Config{
		MaxSize:            cfg.Uploads.MaxSize,
		MaxFilesPerUpload:  cfg.Uploads.MaxFilesPerUpload,
		MaxFieldsPerUpload: cfg.Uploads.MaxFieldsPerUpload,
		ExtensionBlacklist: toSet(cfg.Uploads.ExtensionBlacklist),
		ExtensionWhitelist: toSet(cfg.Uploads.ExtensionWhitelist),
		FilterEmptyFile:    cfg.Uploads.FilterEmptyFile,
		HashingEnabled:     cfg.Uploads.HashingEnabled,
		FileIdentifierLen:  cfg.Uploads.FileIdentifierLen,
		StoreIPs:           cfg.Uploads.StoreIPs,
		AllowStripTags:     cfg.Uploads.AllowStripTags,
		ThumbnailExts:      thumbExts,
	}, ids, idalloc.FileNameChecker{Conn: conn}, chunks, sc, bypass, writer, p, nil)

	server := api.New(api.Deps{
		Config:    cfg,
		Conn:      conn,
		Paths:     p,
		IDs:       ids,
		Hold:      hold,
		Engine:    engine,
		Fetcher:   fetcher,
		Chunks:    chunks,
		Deleter:   deleter,
		Zipper:    zipper,
		Purger:    purger,
		Auth:      authSvc,
		Retention: retentionTable,
	})

	cacheRef.server = server

	sweeper := sweep.New(conn, deleter, cfg.Sweeper.Verbose)

	return &application{cfg: cfg, database: database, server: server, sweeper: sweeper}, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

func defaultThumbExts() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
}

// serverCacheRef satisfies dedup.CacheInvalidator and bulkdelete.CacheInvalidator,
// forwarding to the *api.Server constructed after the writer/deleter that need it.
type serverCacheRef struct {
	server *api.Server
}

func (r *serverCacheRef) InvalidateAlbum(albumID uint64) {
	if r.server != nil {
		r.server.InvalidateAlbum(albumID)
	}
}

func (r *serverCacheRef) InvalidateStats() {
	if r.server != nil {
		r.server.InvalidateStats()
	}
}
