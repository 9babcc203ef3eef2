// Package platform identifies the host the agent runs on and names the
// release channel the application was built for.
//
// Detect() returns the OS display name (macOS, Linux, Windows, or GOOS for
// anything else), the kernel release reported by uname on unix systems, and
// the CPU architecture. OS name and architecture are always known; the OS
// version may be empty.
package platform
