//go:build release

package telemetry

import "time"

// Profile names the build profile the flush policy was compiled for.
const Profile = "release"

const (
	MaxQueueLen      = 10
	DebounceInterval = 30 * time.Second
)
