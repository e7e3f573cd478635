package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/report"
)

// GraphOverlay contains run results to visualize on the graph.
type GraphOverlay struct {
	Stages []report.StageSummary
}

// OverlayFrom builds an overlay from a finished run.
func OverlayFrom(r *report.Report) *GraphOverlay {
	if r == nil {
		return nil
	}
	return &GraphOverlay{Stages: r.Stages}
}

// GenerateMermaid produces a Mermaid flowchart of the stage graph.
// It applies semantic styling:
// - Setup: ((Circle))
// - Authenticated: [[Subroutine]]
// - Standalone: [Rectangle]
// Serial stages are annotated, and suite counts are shown when known.
func GenerateMermaid(nodes []domain.StageNode, suites map[string]int, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range nodes {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch node.Category {
		case domain.CategorySetup:
			opener, closer = "((", "))"
		case domain.CategoryAuthenticated:
			opener, closer = "[[", "]]"
		}

		text := node.ID
		if n, ok := suites[node.ID]; ok {
			text = fmt.Sprintf("%s <br/> %d suites", text, n)
		}
		if node.Concurrency == domain.Serial {
			text += " <br/> serial"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, text, closer)

		for _, dep := range node.DependsOn {
			fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(dep), safeID)
		}
	}

	if overlay != nil && len(overlay.Stages) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast on light and dark themes.
		sb.WriteString("    classDef succeeded fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#c62828,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef blocked fill:#eeeeee,stroke:#757575,stroke-dasharray:4,color:#000;\n")

		for _, s := range overlay.Stages {
			class := "failed"
			switch {
			case s.BlockedBy != "":
				class = "blocked"
			case s.Succeeded:
				class = "succeeded"
			}
			fmt.Fprintf(&sb, "    class %s %s;\n", sanitizeMermaidID(s.ID), class)
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
