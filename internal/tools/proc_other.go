//go:build !unix

package tools

import "os/exec"

// configureProcess relies on the default kill plus WaitDelay.
func configureProcess(*exec.Cmd) {}
