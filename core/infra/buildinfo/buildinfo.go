package buildinfo

import (
	"fmt"

	"github.com/zavora-ai/imagegen/core/infra/logging"
)

// Populated via -ldflags "-X github.com/zavora-ai/imagegen/core/infra/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Summary is the build description reported by the health endpoint.
type Summary struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current returns the linked build values.
func Current() Summary {
	return Summary{Version: Version, Commit: Commit, Date: Date}
}

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Log writes the build summary with the service name.
func Log(service string) {
	logging.Info(service, "build", "version", Version, "commit", Commit, "date", Date)
}
