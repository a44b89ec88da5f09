package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// MinFreeBytes is the headroom below which the cache check fails. A long
// book at 24 kHz mono needs a few hundred megabytes of chapter WAVs.
const MinFreeBytes = 512 << 20

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path, or its nearest
// existing parent, has at least minFree bytes available.
func CheckFreeSpace(name, path string, minFree uint64) Result {
	probe := path
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

	var stat unix.Statfs_t
	if err := unix.Statfs(probe, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", probe, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFree {
		return Result{Name: name, Detail: fmt.Sprintf("%s free at %s (need %s)", humanize.IBytes(free), probe, humanize.IBytes(minFree))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s free at %s", humanize.IBytes(free), probe)}
}
