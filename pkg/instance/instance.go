package instance

import (
	"os"

	"github.com/bazaarline/marketplace-backend/pkg/env"
)

// GetID returns the worker instance identifier. BAZAARLINE_WORKER_ID wins,
// then the hostname, then a static default.
func GetID() string {
	if id := env.Get("BAZAARLINE_WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
