//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func exitSignal(*os.ProcessState) string { return "" }

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
