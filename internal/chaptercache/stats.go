package chaptercache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Stats summarizes the cache directory for the CLI.
type Stats struct {
	Root         string        `json:"root"`
	Files        int           `json:"files"`
	TotalBytes   int64         `json:"total_bytes"`
	FreeBytes    uint64        `json:"free_bytes"`
	TotalFSBytes uint64        `json:"total_fs_bytes"`
	FileSummary  []FileSummary `json:"file_summary"`
}

// FileSummary describes one cached chapter file.
type FileSummary struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Stats walks the chapter directory and reports filesystem headroom.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{Root: s.root}
	entries, err := os.ReadDir(filepath.Join(s.root, chaptersDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return stats, fmt.Errorf("read chapter cache: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Files++
		stats.TotalBytes += info.Size()
		stats.FileSummary = append(stats.FileSummary, FileSummary{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(stats.FileSummary, func(i, j int) bool {
		return stats.FileSummary[i].Name < stats.FileSummary[j].Name
	})

	probe := s.root
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	total, free, err := s.statfs(probe)
	if err == nil {
		stats.TotalFSBytes = total
		stats.FreeBytes = free
	}
	return stats, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
