package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kitovu/kitovu/internal/sync"
)

func printSummary(w io.Writer, s *sync.RunSummary) {
	title := "Sync finished"
	switch {
	case s.Cancelled:
		title = yellow("Sync cancelled")
	case s.HasFailures():
		title = yellow("Sync finished with failures")
	default:
		title = green(title)
	}
	if s.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(w, "%s in %s\n", title, s.Duration().Round(time.Millisecond))

	for _, state := range sync.AllStates {
		if n := s.States[state]; n > 0 {
			fmt.Fprintf(w, "  %-15s %d\n", state, n)
		}
	}

	verb := "downloaded"
	if s.DryRun {
		verb = "to download"
	}
	fmt.Fprintf(w, "  %s %s (%s)\n", verb, cyan(plural(s.Downloads, "file")), humanize.Bytes(uint64(s.DownloadedBytes)))
	if s.Healed > 0 || s.Ignored > 0 {
		fmt.Fprintf(w, "  recorded %d existing, ignored %d\n", s.Healed, s.Ignored)
	}
	if s.HasFailures() {
		fmt.Fprintf(w, "  %s %d connection, %d subject, %d file\n", red("failed:"),
			s.ConnectionFailures, s.SubjectFailures, s.FileFailures)
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
