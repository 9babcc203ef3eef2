//go:build unix

package platform

import "golang.org/x/sys/unix"

// osVersion returns the kernel release from uname(2).
func osVersion() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Release[:])
}
