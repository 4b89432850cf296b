package install

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/kalambet/ollamaup/internal/clock"
)

// Mode identifies a server install path.
type Mode string

const (
	ModeHomebrew Mode = "homebrew"
	ModeScript   Mode = "script"
	ModeManual   Mode = "manual"
)

// Commands run for the terminal-based modes and the page opened by the
// manual mode.
const (
	HomebrewCommand = "brew install --cask ollama && sleep 3 && ollama list"
	ScriptCommand   = "curl -fsSL https://ollama.com/install.sh | sh"
	DownloadURL     = "https://ollama.com/download"
)

// ModeInfo is an install option offered to the UI.
type ModeInfo struct {
	ID    Mode   `json:"id"`
	Label string `json:"label"`
}

// Platform describes the host for mode selection.
type Platform struct {
	GOOS     string
	LookPath func(file string) (string, error)
}

// HostPlatform returns the Platform of the running process.
func HostPlatform() Platform {
	return Platform{GOOS: runtime.GOOS, LookPath: exec.LookPath}
}

// Modes lists the install modes available on p. Homebrew is offered only when
// brew is on PATH and never on Windows; the script only on Linux. Manual is
// always offered, always last.
func (p Platform) Modes() []ModeInfo {
	var modes []ModeInfo
	if p.GOOS != "windows" && p.LookPath != nil {
		if _, err := p.LookPath("brew"); err == nil {
			modes = append(modes, ModeInfo{ID: ModeHomebrew, Label: "Install with Homebrew"})
		}
	}
	if p.GOOS == "linux" {
		modes = append(modes, ModeInfo{ID: ModeScript, Label: "Install with script"})
	}
	return append(modes, ModeInfo{ID: ModeManual, Label: "Install manually"})
}

// Offers reports whether mode is among p.Modes().
func (p Platform) Offers(mode Mode) bool {
	for _, m := range p.Modes() {
		if m.ID == mode {
			return true
		}
	}
	return false
}

// Launcher hands install actions to the desktop. Both calls return once the
// action is dispatched; they do not wait for it to finish.
type Launcher interface {
	RunInTerminal(ctx context.Context, command string) error
	OpenURL(ctx context.Context, url string) error
}

// ShellLauncher runs commands through sh, optionally wrapped in a terminal
// emulator given as a shell-words prefix such as "gnome-terminal --".
type ShellLauncher struct {
	prefix []string
	goos   string
	start  func(cmd *exec.Cmd) error
}

// NewShellLauncher parses terminal into the command prefix. An empty string
// runs commands detached in the background.
func NewShellLauncher(terminal string) (*ShellLauncher, error) {
	prefix, err := shellwords.Parse(terminal)
	if err != nil {
		return nil, fmt.Errorf("parsing terminal command %q: %w", terminal, err)
	}
	return &ShellLauncher{prefix: prefix, goos: runtime.GOOS, start: startDetached}, nil
}

// RunInTerminal starts command and returns without waiting for it.
func (l *ShellLauncher) RunInTerminal(_ context.Context, command string) error {
	args := append(append([]string{}, l.prefix...), "sh", "-c", command)
	return l.start(exec.Command(args[0], args[1:]...))
}

// OpenURL opens url in the default browser.
func (l *ShellLauncher) OpenURL(_ context.Context, url string) error {
	var cmd *exec.Cmd
	switch l.goos {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return l.start(cmd)
}

func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// serverInstall records a dispatched server install. The record expires after
// timeout so a terminal the user abandoned cannot pin the status forever.
type serverInstall struct {
	clock   clock.Clock
	timeout time.Duration

	mu     sync.Mutex
	active bool
	since  time.Time
	mode   Mode
}

func (s *serverInstall) begin(mode Mode) {
	s.mu.Lock()
	s.active = true
	s.since = s.clock.Now()
	s.mode = mode
	s.mu.Unlock()
}

func (s *serverInstall) installing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	if s.timeout > 0 && s.clock.Now().Sub(s.since) >= s.timeout {
		s.active = false
		return false
	}
	return true
}

func (s *serverInstall) clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = false
	return was
}
