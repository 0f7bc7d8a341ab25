//go:build windows

package main

import "os/exec"

// setSysProcAttr is a no-op on Windows; the child keeps the default process
// attributes.
func setSysProcAttr(cmd *exec.Cmd) {}
