// Package thumbnail implements the fire-and-forget thumbnail job from
// spec §4.3 step 4 and §6's on-disk layout note: generate
// uploads/thumbs/<identifier>.png for a committed file, symlinking to the
// configured static placeholder when generation fails. With no
// placeholder path configured, a failed job leaves no thumbnail.
//
// The thumbnailer engine itself is out of scope (spec §1: "the exact
// choice of ... thumbnailer" is a collaborator), so Generator is an
// interface; this package owns only the scheduling, placeholder
// fallback, and extension gating around it.
package thumbnail

import (
	"os"
	"strings"
	"sync"

	"github.com/opsworld30/safe/internal/logging"
	"github.com/opsworld30/safe/internal/paths"
)

var log = logging.For("thumbnail")

// Generator produces a PNG thumbnail for the file at srcPath, writing it
// to dstPath. No AV engine, image library, or encoder in the pack is a
// good fit to name concretely here (spec treats it as a collaborator),
// so callers supply their own implementation; NullGenerator, which
// always fails, is provided for local/dev use.
type Generator interface {
	Generate(srcPath, dstPath string) error
}

// NullGenerator always fails, causing every thumbnail to fall back to
// the placeholder. It is the configuration-disabled default.
type NullGenerator struct{}

func (NullGenerator) Generate(string, string) error {
	return os.ErrInvalid
}

// Scheduler fires thumbnail jobs without blocking the upload response,
// per spec §4.3 step 4's "fire-and-forget".
type Scheduler struct {
	paths         *paths.Paths
	generator     Generator
	extensions    map[string]struct{}
	placeholder   string
	wg            sync.WaitGroup
}

// New constructs a Scheduler. extensions is the set of lower-cased file
// extensions (including the leading dot) thumbnails are generated for;
// placeholderPath is the static PNG symlinked on failure.
func New(p *paths.Paths, gen Generator, extensions []string, placeholderPath string) *Scheduler {
	set := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		set[strings.ToLower(e)] = struct{}{}
	}
	return &Scheduler{paths: p, generator: gen, extensions: set, placeholder: placeholderPath}
}

// Supports reports whether extension is thumbnail-eligible.
func (s *Scheduler) Supports(extension string) bool {
	_, ok := s.extensions[strings.ToLower(extension)]
	return ok
}

// Schedule launches the thumbnail job in its own goroutine. identifier is
// the file's bare identifier (no extension); srcPath is the committed
// upload's on-disk path.
func (s *Scheduler) Schedule(identifier, srcPath string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(identifier, srcPath)
	}()
}

func (s *Scheduler) run(identifier, srcPath string) {
	dstPath := s.paths.ThumbPath(identifier)
	if err := s.generator.Generate(srcPath, dstPath); err != nil {
		log.Warn("thumbnail generation failed, using placeholder", "identifier", identifier, "err", err)
		s.fallbackToPlaceholder(dstPath)
		return
	}
}

// fallbackToPlaceholder symlinks dstPath to the static placeholder, per
// spec §6's on-disk layout note. Any pre-existing partial output at
// dstPath is removed first so the symlink call doesn't fail on EEXIST.
func (s *Scheduler) fallbackToPlaceholder(dstPath string) {
	_ = os.Remove(dstPath)
	if s.placeholder == "" {
		return
	}
	if err := os.Symlink(s.placeholder, dstPath); err != nil {
		log.Error("failed to symlink placeholder thumbnail", "dst", dstPath, "err", err)
	}
}

// Wait blocks until every scheduled job has finished. Intended for tests
// and graceful shutdown, not the request path.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// DedupAdapter satisfies dedup.ThumbnailScheduler's Schedule(name,
// mimeType string) shape, translating it into this package's
// Schedule(identifier, srcPath string) call. mimeType is unused: this
// scheduler gates on extension, not sniffed content type.
type DedupAdapter struct {
	Scheduler *Scheduler
}

func (a DedupAdapter) Schedule(name string, _ string) {
	ext := ""
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		ext = name[idx:]
	}
	if !a.Scheduler.Supports(ext) {
		return
	}
	identifier := strings.TrimSuffix(name, ext)
	a.Scheduler.Schedule(identifier, a.Scheduler.paths.UploadPath(name))
}
