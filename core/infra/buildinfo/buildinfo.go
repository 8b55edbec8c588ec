package buildinfo

import (
	"fmt"

	"github.com/botify/catalog/core/infra/logging"
)

// Set at link time with -ldflags "-X github.com/botify/catalog/core/infra/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// APIVersion is reported by the stats endpoint.
const APIVersion = "v1"

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Log writes the build summary with the service name.
func Log(service string) {
	logging.Info(service, "starting", "version", Version, "commit", Commit, "date", Date)
}
