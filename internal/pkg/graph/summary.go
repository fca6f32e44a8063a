package graph

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/endorses/fpengine/internal/pkg/engine"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Width(18)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var confidenceColors = map[fingerprint.Confidence]lipgloss.Color{
	fingerprint.ConfidenceDefinite: lipgloss.Color("42"),
	fingerprint.ConfidenceVeryHigh: lipgloss.Color("42"),
	fingerprint.ConfidenceHigh:     lipgloss.Color("214"),
	fingerprint.ConfidenceMedium:   lipgloss.Color("214"),
	fingerprint.ConfidenceLow:      lipgloss.Color("203"),
	fingerprint.ConfidenceGuess:    lipgloss.Color("240"),
}

// WriteSummary renders the graph and engine statistics for a terminal
func WriteSummary(w io.Writer, g *Graph, st engine.Stats) error {
	var b strings.Builder

	vertices, edges := g.Size()
	b.WriteString(titleStyle.Render("Fingerprint summary"))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(strings.Join([]string{
		fmt.Sprintf("packets      %d", st.Packets),
		fmt.Sprintf("records      %d", st.Records),
		fmt.Sprintf("skipped      %d", st.Skipped),
		fmt.Sprintf("failures     %d", st.Failures),
		fmt.Sprintf("fingerprints %d", st.Tree.Fingerprints),
		fmt.Sprintf("hosts        %d", vertices),
		fmt.Sprintf("connections  %d", edges),
	}, "\n")))
	b.WriteString("\n")

	for _, v := range g.Vertices() {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render(v.Address))
		b.WriteString(" ")
		b.WriteString(subtleStyle.Render(strings.Join(v.Fingerprints, ", ")))
		b.WriteString("\n")
		writeProperties(&b, v.Properties)
	}

	for _, e := range g.Edges() {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render(e.A + " <-> " + e.B))
		b.WriteString(" ")
		b.WriteString(subtleStyle.Render(strings.Join(e.Fingerprints, ", ")))
		b.WriteString("\n")
		writeProperties(&b, e.Properties)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeProperties(b *strings.Builder, props Properties) {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var vals []string
		for _, v := range props[name] {
			style := lipgloss.NewStyle().Foreground(confidenceColors[v.Confidence])
			vals = append(vals, style.Render(v.Value)+subtleStyle.Render(fmt.Sprintf(" (%s %.2f)", v.Confidence, v.Confidence.Score())))
		}
		b.WriteString("  ")
		b.WriteString(nameStyle.Render(name))
		b.WriteString(strings.Join(vals, ", "))
		b.WriteString("\n")
	}
}
