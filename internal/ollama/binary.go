package ollama

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Binary locates the Ollama CLI by invoking its version flag.
type Binary struct {
	Path string
	Run  CommandRunner
}

// NewBinary returns a Binary for the executable at path, run via os/exec.
func NewBinary(path string) *Binary {
	if path == "" {
		path = "ollama"
	}
	return &Binary{Path: path, Run: ExecRunner}
}

// Version runs `<binary> -v` and returns the trimmed output.
func (b *Binary) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := b.Run(ctx, b.Path, "-v")
	if err != nil {
		return "", fmt.Errorf("running %s -v: %w", b.Path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Installed reports whether the version command succeeds.
func (b *Binary) Installed(ctx context.Context) bool {
	_, err := b.Version(ctx)
	return err == nil
}
