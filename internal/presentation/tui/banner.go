package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the Canopy ASCII art banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.NewOutput(w).Profile
	// Canopy greens, from shade to sunlight.
	lines := []struct{ text, color string }{
		{"   ___                            ", "#14532d"},
		{"  / __|__ _ _ _  ___ _ __ _  _    ", "#166534"},
		{" | (__/ _` | ' \\/ _ \\ '_ \\ || |   ", "#15803d"},
		{"  \\___\\__,_|_||_\\___/ .__/\\_, |   ", "#22c55e"},
		{"                    |_|   |__/    ", "#86efac"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, p.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
