package main

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"resonate/internal/lifecycle"
)

var titleCaser = cases.Title(language.English)

// colorEnabled reports whether the command writes to a terminal.
func colorEnabled(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func stateLabel(state lifecycle.State, color bool) string {
	label := titleCaser.String(string(state))
	if !color {
		return label
	}
	switch state {
	case lifecycle.StateReady, lifecycle.StatePublished:
		return text.FgGreen.Sprint(label)
	case lifecycle.StateProcessing:
		return text.FgCyan.Sprint(label)
	case lifecycle.StateError:
		return text.FgRed.Sprint(label)
	case lifecycle.StateArchived:
		return text.FgHiBlack.Sprint(label)
	default:
		return label
	}
}

func passLabel(passed bool, color bool) string {
	if !color {
		if passed {
			return "ok"
		}
		return "FAIL"
	}
	if passed {
		return text.FgGreen.Sprint("ok")
	}
	return text.FgRed.Sprint("FAIL")
}

func formatBytes(n int) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
