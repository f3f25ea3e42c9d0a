// Package api implements the HTTP surface from spec §6: every route in
// its table, wired to the domain packages built for this service.
//
// Grounded on the teacher's internal/api package shape (one Handler
// struct per concern, a router.go wiring gin groups), generalized from
// the object-store's file/batch/chunk/s3/webdav surface to this service's
// upload/album/auth/query surface. gin-gonic/gin (teacher, kept) remains
// the framework; charmbracelet/log (kdeps) replaces the teacher's bare
// log.Printf middleware.
package api

import (
	"time"

	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/albumzip"
	"github.com/opsworld30/safe/internal/auth"
	"github.com/opsworld30/safe/internal/bulkdelete"
	"github.com/opsworld30/safe/internal/cache"
	"github.com/opsworld30/safe/internal/cdn"
	"github.com/opsworld30/safe/internal/chunk"
	"github.com/opsworld30/safe/internal/config"
	"github.com/opsworld30/safe/internal/idalloc"
	"github.com/opsworld30/safe/internal/ingest"
	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/paths"
	"github.com/opsworld30/safe/internal/query"
	"github.com/opsworld30/safe/internal/retention"
	"github.com/opsworld30/safe/internal/urlfetch"
)

var log = logging.For("api")

// Server holds every collaborator a route handler needs. It carries no
// per-request state.
type Server struct {
	cfg        *config.Config
	conn       *gorm.DB
	paths      *paths.Paths
	ids        *idalloc.IdStore
	hold       *idalloc.OnHold
	engine     *ingest.Engine
	fetcher    *urlfetch.Fetcher
	chunks     *chunk.Coordinator
	deleter    *bulkdelete.Deleter
	zipper     *albumzip.Zipper
	purger     *cdn.Purger
	authSvc    *auth.Service
	retention  *retention.Table
	queryLimit query.Limits
	renderCache *cache.Store[[]byte]
	statsCache  *cache.StatsCache[UploadStats]
	startedAt  time.Time
	version    string
}

// Deps bundles the constructed collaborators New needs; every field is
// already wired by cmd/safe's startup sequence.
type Deps struct {
	Config    *config.Config
	Conn      *gorm.DB
	Paths     *paths.Paths
	IDs       *idalloc.IdStore
	Hold      *idalloc.OnHold
	Engine    *ingest.Engine
	Fetcher   *urlfetch.Fetcher
	Chunks    *chunk.Coordinator
	Deleter   *bulkdelete.Deleter
	Zipper    *albumzip.Zipper
	Purger    *cdn.Purger
	Auth      *auth.Service
	Retention *retention.Table
}

// New constructs a Server from Deps.
func New(d Deps) *Server {
	return &Server{
		cfg:     d.Config,
		conn:    d.Conn,
		paths:   d.Paths,
		ids:     d.IDs,
		hold:    d.Hold,
		engine:  d.Engine,
		fetcher: d.Fetcher,
		chunks:  d.Chunks,
		deleter: d.Deleter,
		zipper:  d.Zipper,
		purger:  d.Purger,
		authSvc: d.Auth,
		retention: d.Retention,
		queryLimit: query.Limits{
			MaxTextQueries:    d.Config.Query.MaxTextQueries,
			MaxWildcardsInKey: d.Config.Query.MaxWildcardsInKey,
			MaxSortKeys:       d.Config.Query.MaxSortKeys,
			MaxIsKeys:         d.Config.Query.MaxIsKeys,
		},
		renderCache: cache.New[[]byte](2048),
		statsCache:  cache.NewStats[UploadStats](),
		startedAt:   time.Now(),
		version:     d.Config.Server.Version,
	}
}
