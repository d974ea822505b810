// Package movebuild compiles a Move package with the Sui CLI and returns the
// base64 modules and dependency ids a publish transaction needs.
package movebuild

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pattonkan/sui-go/utils"
)

// Builder runs `sui move build`. The zero value uses "sui" from PATH.
type Builder struct {
	SuiBin string
}

// Build compiles the package at dir from a scratch copy so that read-only
// checkouts build and no build/ directory is left in the source tree.
func (b Builder) Build(ctx context.Context, dir string) (*utils.CompiledMoveModules, error) {
	if dir == "" {
		return nil, fmt.Errorf("move package path is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve move package path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, "Move.toml")); err != nil {
		return nil, fmt.Errorf("%s is not a move package: %w", abs, err)
	}

	scratch, err := os.MkdirTemp("", "launchpad-move-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	src := filepath.Join(scratch, filepath.Base(abs))
	if err := copyTree(abs, src); err != nil {
		return nil, fmt.Errorf("copy move package: %w", err)
	}
	return b.run(ctx, src, filepath.Join(scratch, "install"))
}

func (b Builder) run(ctx context.Context, dir, installDir string) (*utils.CompiledMoveModules, error) {
	bin := b.SuiBin
	if bin == "" {
		bin = "sui"
	}
	cmd := exec.CommandContext(ctx, bin,
		"move", "build",
		"--dump-bytecode-as-base64",
		"--skip-fetch-latest-git-deps",
		"--ignore-chain",
		"--install-dir", installDir,
	)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "RUST_BACKTRACE=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("sui move build: %w: %s", err, summarize(stdout.String(), stderr.String()))
	}

	var modules utils.CompiledMoveModules
	if err := json.Unmarshal(stdout.Bytes(), &modules); err != nil {
		return nil, fmt.Errorf("parse move build output: %w", err)
	}
	if len(modules.Modules) == 0 {
		return nil, fmt.Errorf("sui move build produced no modules")
	}
	return &modules, nil
}

// copyTree copies src to dst, skipping .git and build output.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if rel != "." && (d.Name() == ".git" || d.Name() == "build") {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// summarize keeps the first lines of CLI output; bytecode dumps are long.
func summarize(stdout, stderr string) string {
	var lines []string
	for _, s := range []string{stderr, stdout} {
		for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 {
		return "no output from sui"
	}
	const keep = 10
	if len(lines) > keep {
		return strings.Join(lines[:keep], "\n") + fmt.Sprintf("\n... %d more lines", len(lines)-keep)
	}
	return strings.Join(lines, "\n")
}
