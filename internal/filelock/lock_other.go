//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows)

package filelock

import "os"

// Platforms without flock or LockFileEx rely on the in-process mutex only.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }
