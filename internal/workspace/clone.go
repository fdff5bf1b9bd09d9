package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// maxGitOutput bounds how much git output is quoted in an error.
const maxGitOutput = 512

func (a *Acquirer) clone(ctx context.Context, url, ref string) (*Workspace, error) {
	if strings.HasPrefix(url, "-") {
		return nil, fmt.Errorf("invalid remote url %q", url)
	}
	if strings.HasPrefix(ref, "-") {
		return nil, fmt.Errorf("invalid ref %q", ref)
	}

	dir, err := a.stage()
	if err != nil {
		return nil, err
	}

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, "--", url, dir)

	cmd := exec.CommandContext(ctx, a.opts.GitBinary, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(dir)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("git clone interrupted: %w", ctx.Err())
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > maxGitOutput {
			msg = msg[:maxGitOutput]
		}
		return nil, fmt.Errorf("git clone: %w: %s", err, msg)
	}

	return &Workspace{Root: dir, staged: dir}, nil
}
