package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/malaphor/pkg/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF00FF"))
	rankStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF"))
	riskStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
)

// TextOptions controls how much of a result RenderText prints.
type TextOptions struct {
	TopAnomalies int
	ShowOutliers bool
}

// DefaultTextOptions matches the summary printed by the analyze command.
func DefaultTextOptions() TextOptions {
	return TextOptions{TopAnomalies: 5, ShowOutliers: true}
}

// RenderText writes a human readable summary of res.
func RenderText(w io.Writer, res *pipeline.Result, opts TextOptions) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Malaphor risky path analysis"))
	fmt.Fprintf(&b, "%s\n", mutedStyle.Render(fmt.Sprintf(
		"run %s: %d entities, %d events, %d start and %d end candidates, %d paths in %dms",
		res.RunID, res.Stats.Entities, res.Stats.Events,
		res.Stats.StartCandidates, res.Stats.EndCandidates,
		res.PathsFound, res.DurationMillis)))
	if res.Truncated {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render(fmt.Sprintf(
			"enumeration stopped early (%s); %d of %d pairs searched",
			res.TruncationReason, res.Stats.PairsSearched, res.Stats.PairsTotal)))
	}

	if opts.TopAnomalies > 0 {
		top := res.TopAnomalies(opts.TopAnomalies)
		fmt.Fprintf(&b, "\n%s\n", titleStyle.Render(fmt.Sprintf("Top %d most anomalous nodes", len(top))))
		writeNodes(&b, top)
	}

	if opts.ShowOutliers {
		outliers := res.Outliers()
		if len(outliers) == 0 {
			fmt.Fprintf(&b, "\n%s\n", mutedStyle.Render("No nodes predicted as outliers"))
		} else {
			fmt.Fprintf(&b, "\n%s\n", titleStyle.Render("Nodes predicted as outliers"))
			writeNodes(&b, outliers)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", titleStyle.Render(fmt.Sprintf("Top %d riskiest paths", len(res.RiskyPaths))))
	if len(res.RiskyPaths) == 0 {
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("No paths found."))
	}
	for i, rp := range res.RiskyPaths {
		fmt.Fprintf(&b, "%s %s\n",
			rankStyle.Render(fmt.Sprintf("Rank %d:", i+1)),
			riskStyle.Render(fmt.Sprintf("Score=%.4f", rp.Score)))
		fmt.Fprintf(&b, "  Path: %s\n", strings.Join(rp.PathIDs, " -> "))
		fmt.Fprintf(&b, "  Path (with types): %s\n", rp.PathWithTypes)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeNodes(b *strings.Builder, nodes []pipeline.Node) {
	idWidth := len("id")
	for _, n := range nodes {
		idWidth = max(idWidth, len(n.ID))
	}
	fmt.Fprintf(b, "  %-*s  %-12s  %10s  %s\n", idWidth, "id", "type", "score", "prediction")
	for _, n := range nodes {
		score, pred := "-", "-"
		if n.AnomalyScore != nil {
			score = fmt.Sprintf("%.4f", *n.AnomalyScore)
		}
		if n.Prediction != nil {
			pred = fmt.Sprintf("%d", *n.Prediction)
		}
		fmt.Fprintf(b, "  %-*s  %-12s  %10s  %s\n", idWidth, n.ID, n.Type, score, pred)
	}
}
