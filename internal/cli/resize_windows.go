//go:build windows

package cli

import "os"

// notifyResize is a no-op; Windows consoles have no resize signal.
func notifyResize(chan<- os.Signal) {}
