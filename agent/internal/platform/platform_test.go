package platform

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	info := Detect()
	if info.OSName == "" {
		t.Error("OSName is empty")
	}
	if info.Architecture != runtime.GOARCH {
		t.Errorf("Architecture = %q, want %q", info.Architecture, runtime.GOARCH)
	}
	if runtime.GOOS == "linux" && info.OSVersion == "" {
		t.Error("OSVersion is empty on linux")
	}
}

func TestOSName(t *testing.T) {
	cases := map[string]string{
		"darwin":  "macOS",
		"linux":   "Linux",
		"windows": "Windows",
		"plan9":   "plan9",
	}
	for goos, want := range cases {
		if got := osName(goos); got != want {
			t.Errorf("osName(%q) = %q, want %q", goos, got, want)
		}
	}
}

func TestParseReleaseChannel(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    ReleaseChannel
		display string
	}{
		{"dev", ChannelDev, "Dev"},
		{"Preview", ChannelPreview, "Preview"},
		{" stable ", ChannelStable, "Stable"},
		{"", "", ""},
	} {
		got, err := ParseReleaseChannel(tc.in)
		if err != nil {
			t.Fatalf("ParseReleaseChannel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseReleaseChannel(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if got.DisplayName() != tc.display {
			t.Errorf("DisplayName(%q) = %q, want %q", got, got.DisplayName(), tc.display)
		}
	}

	if _, err := ParseReleaseChannel("nightly"); err == nil {
		t.Error("expected error for unknown channel")
	}
}
