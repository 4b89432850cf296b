package main

import (
	"fmt"
	"io"
	"strings"

	units "github.com/docker/go-units"

	"github.com/kalambet/ollamaup/internal/models"
)

// progressPrinter renders pull progress events as one rewritten line per
// model.
type progressPrinter struct {
	w       io.Writer
	current string
	percent int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) handle(ev models.ProgressEvent) {
	if ev.Key != p.current {
		p.finish()
		fmt.Fprintln(p.w, colorize(colorCyan, "→ Pulling "+ev.Key))
		p.current = ev.Key
		p.percent = 0
	}

	p.percent += ev.Increment
	p.percent = min(max(p.percent, 0), 100)

	line := fmt.Sprintf("%3d%% %s", p.percent, ev.Status)
	if ev.HasBytes() {
		line += fmt.Sprintf(" (%s / %s)",
			units.HumanSize(float64(*ev.Completed)),
			units.HumanSize(float64(*ev.Total)))
	}
	fmt.Fprintf(p.w, "\r  %-64s", truncate(line, 64))
}

// finish ends the current model's progress line.
func (p *progressPrinter) finish() {
	if p.current != "" {
		fmt.Fprintln(p.w)
		p.current = ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// sizeLabel formats a catalog size for display. Sizes that do not parse are
// shown as reported.
func sizeLabel(size string) string {
	bytes, err := units.FromHumanSize(strings.ReplaceAll(size, " ", ""))
	if err != nil {
		return size
	}
	return units.HumanSize(float64(bytes))
}
