//go:build unix

package worker

import "golang.org/x/sys/unix"

func currentParent() int { return unix.Getppid() }

// alive reports whether pid exists. EPERM means it exists under
// another user.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
