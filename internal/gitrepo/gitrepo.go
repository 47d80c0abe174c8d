// Package gitrepo checks out historical states of a git work tree by
// shelling out to the git binary.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/apisurface/pkg/types"
)

var (
	// ErrNotRepository is returned when a directory is not a git work tree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrNoCommit is returned when no commit on the branch predates a date.
	ErrNoCommit = errors.New("no commit before date")
	// ErrInvalidDate is returned for checkout dates git cannot be given safely.
	ErrInvalidDate = errors.New("invalid checkout date")
)

// dateLayouts are the accepted checkout date forms.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// Options configures a repository handle.
type Options struct {
	Branch string // branch dates are resolved on (default: the checked-out branch)
	Logger *slog.Logger
}

// runner executes git in dir and returns trimmed stdout.
type runner func(ctx context.Context, dir string, args ...string) (string, error)

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Repo is a git work tree.
type Repo struct {
	dir    string
	branch string
	logger *slog.Logger
	run    runner
}

// Open returns a handle on the work tree at dir.
func Open(ctx context.Context, dir string, opts Options) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}
	r := &Repo{dir: abs, branch: opts.Branch, logger: opts.Logger, run: runGit}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	top, err := r.run(ctx, abs, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}
	r.dir = top

	if r.branch == "" {
		b, err := r.run(ctx, r.dir, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return nil, err
		}
		if b == "HEAD" {
			return nil, fmt.Errorf("%s: detached HEAD, a branch must be configured", dir)
		}
		r.branch = b
	}
	return r, nil
}

// Clone clones url into dir, which must not exist yet, and opens it.
func Clone(ctx context.Context, url, dir string, opts Options) (*Repo, error) {
	args := []string{"clone", "--quiet"}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, url, dir)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("cloning repository", "url", url, "dir", dir)
	if _, err := runGit(ctx, "", args...); err != nil {
		return nil, err
	}
	return Open(ctx, dir, opts)
}

// Dir is the work tree root.
func (r *Repo) Dir() string { return r.dir }

// Branch is the branch checkout dates resolve on.
func (r *Repo) Branch() string { return r.branch }

// Head returns the checked-out commit.
func (r *Repo) Head(ctx context.Context) (types.Snapshot, error) {
	out, err := r.run(ctx, r.dir, "log", "-1", "--format=%H %cI")
	if err != nil {
		return types.Snapshot{}, err
	}
	hash, date, ok := strings.Cut(out, " ")
	if !ok {
		return types.Snapshot{}, fmt.Errorf("unexpected git log output %q", out)
	}
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("parse commit date %q: %w", date, err)
	}
	return types.Snapshot{CommitHash: hash, CommitDate: t}, nil
}

// Checkout moves the work tree to the last commit on the branch before date,
// or to the branch tip when date is empty. The returned snapshot is marked
// latest for the tip.
func (r *Repo) Checkout(ctx context.Context, date string) (types.Snapshot, error) {
	ref := r.branch
	if date != "" {
		if _, err := ParseDate(date); err != nil {
			return types.Snapshot{}, err
		}
		hash, err := r.run(ctx, r.dir, "rev-list", "-1", "--before="+date, r.branch)
		if err != nil {
			return types.Snapshot{}, err
		}
		if hash == "" {
			return types.Snapshot{}, fmt.Errorf("%s on %s: %w", date, r.branch, ErrNoCommit)
		}
		ref = hash
	}

	if _, err := r.run(ctx, r.dir, "checkout", "--quiet", "--force", ref); err != nil {
		return types.Snapshot{}, err
	}
	snap, err := r.Head(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	snap.CheckoutDate = date
	snap.IsLatest = date == ""
	r.logger.Info("checked out", "ref", ref, "commit", snap.CommitHash, "commit_date", snap.CommitDate)
	return snap, nil
}

// ParseDate validates a checkout date.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q: %w", s, ErrInvalidDate)
}
