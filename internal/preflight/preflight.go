// Package preflight verifies the environment before the daemon starts
// accepting work: directories, disk space, external binaries, and the remote
// services every pipeline stage depends on.
package preflight

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"lingopipe/internal/config"
	"lingopipe/internal/deps"
	"lingopipe/internal/logging"
	"lingopipe/internal/search"
	"lingopipe/internal/transcribe"
	"lingopipe/internal/translate"
)

// minScratchBytes is the floor for usable scratch space. Staging a source
// video plus its extracted WAV needs a few gigabytes of headroom.
const minScratchBytes = 2 << 30

// Check is the outcome of one preflight probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Result aggregates every preflight check.
type Result struct {
	Checks []Check `json:"checks"`
}

// Passed reports whether every check succeeded.
func (r Result) Passed() bool {
	for _, check := range r.Checks {
		if !check.OK {
			return false
		}
	}
	return true
}

// Failures returns the checks that did not pass.
func (r Result) Failures() []Check {
	var failed []Check
	for _, check := range r.Checks {
		if !check.OK {
			failed = append(failed, check)
		}
	}
	return failed
}

// Run executes the full preflight sequence. Failures are collected rather
// than aborting early so operators see everything wrong at once.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) Result {
	log := logging.NewComponentLogger(logger, "preflight")
	var result Result
	add := func(name string, ok bool, detail string) {
		result.Checks = append(result.Checks, Check{Name: name, OK: ok, Detail: detail})
		if !ok {
			log.Warn("preflight check failed", logging.String("check", name), logging.String("detail", detail))
		}
	}

	if err := cfg.EnsureDirectories(); err != nil {
		add("directories", false, err.Error())
	} else {
		add("directories", true, "")
	}

	if free, err := freeBytes(cfg.Paths.ScratchDir); err != nil {
		add("scratch space", false, fmt.Sprintf("statfs %s: %v", cfg.Paths.ScratchDir, err))
	} else if free < minScratchBytes {
		add("scratch space", false,
			fmt.Sprintf("%.1f GiB free in %s, need at least %.1f GiB",
				gib(free), cfg.Paths.ScratchDir, gib(minScratchBytes)))
	} else {
		add("scratch space", true, fmt.Sprintf("%.1f GiB free", gib(free)))
	}

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		add(status.Name, status.Available || status.Optional, status.Detail)
	}

	if err := transcribe.NewClient(cfg.Transcriber).Ping(ctx); err != nil {
		add("transcriber", false, err.Error())
	} else {
		add("transcriber", true, cfg.Transcriber.URL)
	}

	if err := translate.NewClient(cfg.Translator).Ping(ctx); err != nil {
		add("translator", false, err.Error())
	} else {
		add("translator", true, cfg.Translator.URL)
	}

	if err := search.NewClient(cfg.Search).Ping(ctx); err != nil {
		add("search", false, err.Error())
	} else {
		add("search", true, cfg.Search.URL)
	}

	return result
}

func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func gib(bytes uint64) float64 {
	return float64(bytes) / (1 << 30)
}
