// Package gitops reads the revision of the trainer's source checkout so that
// every run can be traced back to the code that produced it.
package gitops

import (
	"fmt"
	"os/exec"
	"strings"
)

// Revision returns the HEAD commit of repoDir, suffixed with "-dirty" when
// the working tree has uncommitted changes.
func Revision(repoDir string) (string, error) {
	head := exec.Command("git", "rev-parse", "HEAD")
	head.Dir = repoDir
	out, err := head.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	rev := strings.TrimSpace(string(out))

	status := exec.Command("git", "status", "--porcelain")
	status.Dir = repoDir
	out, err = status.Output()
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	if len(strings.TrimSpace(string(out))) > 0 {
		rev += "-dirty"
	}
	return rev, nil
}
