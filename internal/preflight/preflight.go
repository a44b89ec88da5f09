package preflight

import (
	"path/filepath"

	"audiobooker/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks that apply to cfg. cacheRoot is the resolved
// cache for a project; it may be empty when no project is in scope.
func RunAll(cfg *config.Config, cacheRoot string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.Paths.HistoryDB != "" {
		results = append(results, CheckDirectoryAccess("History directory", filepath.Dir(cfg.Paths.HistoryDB)))
	}
	if cfg.TTS.Engine == "piper" {
		results = append(results, CheckDirectoryAccess("Piper voices", cfg.TTS.PiperVoicesDir))
	}

	// A shared cache dir is created on first render; check its nearest
	// existing parent until then.
	root := cacheRoot
	if root == "" {
		root = cfg.Paths.CacheDir
	}
	if root != "" {
		results = append(results, CheckFreeSpace("Cache free space", root, MinFreeBytes))
	}

	return results
}
