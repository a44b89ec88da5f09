package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"audiobooker/internal/config"
)

// Requirement defines an external binary audiobooker relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries needed by cfg. Piper is only required when
// it is the configured engine.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpeg.FFmpegBinary, Description: "Concatenates, encodes and chapters the audiobook"},
		{Name: "FFprobe", Command: cfg.FFmpeg.FFprobeBinary, Description: "Measures cached chapters without a recorded duration"},
		{Name: "Piper", Command: cfg.TTS.PiperBinary, Description: "Local speech synthesis", Optional: cfg.TTS.Engine != "piper"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Path = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
