package github

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const (
	commitName  = "student"
	commitEmail = "student@example.com"
)

// runGit executes a git command inside dir, returning trimmed stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", subcommand(args), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// subcommand returns the git verb, skipping leading -c option pairs.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

func initAndCommit(ctx context.Context, dir string) error {
	steps := [][]string{
		{"init"},
		{"add", "-A"},
		{"-c", "user.name=" + commitName, "-c", "user.email=" + commitEmail, "commit", "-m", "Initial commit"},
		{"branch", "-M", "main"},
	}
	for _, args := range steps {
		if _, err := runGit(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}

// commitAll stages and commits everything, treating a clean tree as success
// so an update round that regenerates identical content still pushes.
func commitAll(ctx context.Context, dir, message string) error {
	if _, err := runGit(ctx, dir, "add", "-A"); err != nil {
		return err
	}

	status, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}

	_, err = runGit(ctx, dir, "-c", "user.name="+commitName, "-c", "user.email="+commitEmail, "commit", "-m", message)
	return err
}

func clone(ctx context.Context, url, dir string) error {
	_, err := runGit(ctx, "", "clone", url, dir)
	return err
}

func ensureRemote(ctx context.Context, dir, url string) error {
	existing, err := runGit(ctx, dir, "remote")
	if err != nil {
		return err
	}
	for _, name := range strings.Fields(existing) {
		if name == "origin" {
			return setRemote(ctx, dir, url)
		}
	}
	_, err = runGit(ctx, dir, "remote", "add", "origin", url)
	return err
}

func setRemote(ctx context.Context, dir, url string) error {
	_, err := runGit(ctx, dir, "remote", "set-url", "origin", url)
	return err
}

func remoteURL(ctx context.Context, dir string) (string, error) {
	return runGit(ctx, dir, "config", "--get", "remote.origin.url")
}

func pushUpstream(ctx context.Context, dir string, force bool) error {
	args := []string{"push", "-u", "origin", "main"}
	if force {
		args = append(args, "--force")
	}
	_, err := runGit(ctx, dir, args...)
	return err
}

func push(ctx context.Context, dir string, force bool) error {
	args := []string{"push", "origin", "main"}
	if force {
		args = append(args, "--force")
	}
	_, err := runGit(ctx, dir, args...)
	return err
}

func headSHA(ctx context.Context, dir string) (string, error) {
	return runGit(ctx, dir, "rev-parse", "HEAD")
}
