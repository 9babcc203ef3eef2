package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Info is the host identity attached to every batch envelope.
type Info struct {
	OSName       string
	OSVersion    string
	Architecture string
}

// Detect reads the host identity. It never fails; an unknown OS version is
// reported as the empty string.
func Detect() Info {
	return Info{
		OSName:       osName(runtime.GOOS),
		OSVersion:    osVersion(),
		Architecture: runtime.GOARCH,
	}
}

func osName(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	default:
		return goos
	}
}

// ReleaseChannel is the distribution channel of the running build.
type ReleaseChannel string

const (
	ChannelDev     ReleaseChannel = "dev"
	ChannelPreview ReleaseChannel = "preview"
	ChannelStable  ReleaseChannel = "stable"
)

// ParseReleaseChannel accepts dev|preview|stable, case-insensitively.
// The empty string parses to the empty channel (unknown).
func ParseReleaseChannel(s string) (ReleaseChannel, error) {
	switch ReleaseChannel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case ChannelDev:
		return ChannelDev, nil
	case ChannelPreview:
		return ChannelPreview, nil
	case ChannelStable:
		return ChannelStable, nil
	}
	return "", fmt.Errorf("platform: unknown release channel %q: want dev|preview|stable", s)
}

// DisplayName is the label sent to the collector, e.g. "Preview".
func (c ReleaseChannel) DisplayName() string {
	switch c {
	case ChannelDev:
		return "Dev"
	case ChannelPreview:
		return "Preview"
	case ChannelStable:
		return "Stable"
	default:
		return ""
	}
}
