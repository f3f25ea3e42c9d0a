// Package scanner defines the AV-scanning collaborator interface from
// spec §4.4/§6 ("the exact choice of virus scanner ... treated only as a
// collaborator"). It ships a NullScanner (always clean) for local/dev use
// and the aggregation/bypass logic that is part of this repository's
// scope regardless of which engine backs ScanPath.
package scanner

import (
	"fmt"
	"io"
	"strings"
)

// Verdict is the uniform result type both passthrough and post-hoc
// scanning report through, per spec §9 ("the engine must accept both
// signals through one uniform result type").
type Verdict struct {
	Clean    bool
	Infected bool
	Unknown  bool
	Viruses  []string
}

// Scanner submits finished or in-flight files to an external AV engine.
type Scanner interface {
	// ScanPath scans a file already on disk.
	ScanPath(path string) (Verdict, error)
	// SupportsPassthrough reports whether this engine can scan a stream
	// inline as it is written (spec §4.3 "Scanner passthrough vs.
	// post-hoc must be chosen once per ingest based on scanner
	// capability").
	SupportsPassthrough() bool
}

// NullScanner always reports clean and never supports passthrough; it is
// the configuration-disabled default and a stand-in for local development
// where no AV engine is deployed.
type NullScanner struct{}

func (NullScanner) ScanPath(string) (Verdict, error) { return Verdict{Clean: true}, nil }
func (NullScanner) SupportsPassthrough() bool        { return false }

// VerdictResult is what a passthrough scan delivers once, on the channel
// returned by NewPassthrough.
type VerdictResult struct {
	Verdict Verdict
	Err     error
}

// PassthroughScanner is implemented by engines capable of inspecting bytes
// as they stream past, rather than only after the full file has landed on
// disk (spec §4.3/§9: "the engine must accept both signals through one
// uniform result type").
type PassthroughScanner interface {
	Scanner
	// NewPassthrough returns a writer the caller tees file bytes into as
	// they are streamed to disk, and a channel that receives exactly one
	// VerdictResult once the scan completes (i.e. once the writer has
	// seen EOF-equivalent close).
	NewPassthrough() (io.WriteCloser, <-chan VerdictResult)
}

// BypassPolicy captures spec §4.4's bypass rule: a user's group rank at or
// above the configured bypass rank, or an extension on the whitelist, or a
// file over the configured scan size limit.
type BypassPolicy struct {
	BypassGroupRank int
	WhitelistExt    map[string]struct{}
	MaxScanSize     int64
}

// ShouldBypass reports whether the file should skip scanning entirely.
func (p BypassPolicy) ShouldBypass(userRank int, extension string, size int64) bool {
	if userRank >= p.BypassGroupRank {
		return true
	}
	if _, ok := p.WhitelistExt[strings.ToLower(extension)]; ok {
		return true
	}
	if p.MaxScanSize > 0 && size > p.MaxScanSize {
		return true
	}
	return false
}

// Aggregate implements spec §4.4's per-request aggregation: any infected
// file fails the whole request, naming the first threat with ", and more"
// for the rest; otherwise any unknown-result file fails with an
// "unable to scan" message.
func Aggregate(verdicts []Verdict) error {
	var infectedNames []string
	unknownCount := 0

	for _, v := range verdicts {
		if v.Infected {
			if len(v.Viruses) > 0 {
				infectedNames = append(infectedNames, v.Viruses[0])
			} else {
				infectedNames = append(infectedNames, "unknown threat")
			}
		} else if v.Unknown {
			unknownCount++
		}
	}

	if len(infectedNames) > 0 {
		msg := fmt.Sprintf("infected file detected: %s", infectedNames[0])
		if len(infectedNames) > 1 {
			msg += ", and more"
		}
		return fmt.Errorf("%s", msg)
	}

	if unknownCount > 0 {
		return fmt.Errorf("unable to scan one or more files")
	}

	return nil
}
