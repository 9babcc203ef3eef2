//go:build !release

package telemetry

import "time"

// Profile names the build profile the flush policy was compiled for.
const Profile = "dev"

const (
	MaxQueueLen      = 1
	DebounceInterval = time.Second
)
