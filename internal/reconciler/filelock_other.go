//go:build !unix

package reconciler

import "os"

// Without flock only the in-process mutex guards the state file.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
