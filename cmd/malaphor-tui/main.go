// Command malaphor-tui browses an analysis result in the terminal. The
// argument is either a JSON result written by "malaphor analyze --format
// json" or a report archive directory.
package main

import (
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: malaphor-tui <result.json | archive-dir>")
		os.Exit(2)
	}

	res, archive, err := open(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to open %s: %v", os.Args[1], err)
	}

	p := tea.NewProgram(initialModel(res, archive), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}

// open loads a single result file, or returns the archive at a directory.
func open(path string) (*pipeline.Result, runStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		archive, err := report.NewArchive(path)
		if err != nil {
			return nil, nil, err
		}
		return nil, archive, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	res, err := report.ReadJSON(f)
	if err != nil {
		return nil, nil, err
	}
	return res, nil, nil
}
