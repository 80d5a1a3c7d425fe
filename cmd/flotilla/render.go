package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/jpaulson/flotilla/internal/orchestrator"
	"github.com/jpaulson/flotilla/internal/state"
)

// consoleSink prints orchestrator events as they happen.
type consoleSink struct{}

func newConsoleSink() *consoleSink {
	return &consoleSink{}
}

// Emit implements orchestrator.ProgressSink.
func (s *consoleSink) Emit(e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventPlanReady:
		printStatus("✓", "plan ready: "+e.Message, color.FgCyan)
	case orchestrator.EventWaveStarted:
		printStatus("▶", e.Message, color.FgBlue)
	case orchestrator.EventSubtaskStarted:
		printStatus("·", fmt.Sprintf("%s started on %s (%s)", e.SubtaskID, e.Worker, e.Message), color.FgWhite)
	case orchestrator.EventSubtaskCompleted:
		printStatus("✓", fmt.Sprintf("%s completed on %s", e.SubtaskID, e.Worker), color.FgGreen)
	case orchestrator.EventSubtaskFailed:
		printStatus("✗", fmt.Sprintf("%s failed: %s", e.SubtaskID, e.Message), color.FgRed)
	case orchestrator.EventSubtaskBlocked:
		printStatus("⊘", fmt.Sprintf("%s blocked: %s", e.SubtaskID, e.Message), color.FgYellow)
	case orchestrator.EventSubtaskCancelled:
		printStatus("⊘", e.SubtaskID+" cancelled", color.FgYellow)
	case orchestrator.EventEscalation:
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		printStatus("↑", fmt.Sprintf("%s escalating from %s: %s", e.SubtaskID, e.Worker, msg), color.FgMagenta)
	case orchestrator.EventCorrectionAccepted:
		printStatus("↺", fmt.Sprintf("correction on %s: %s", e.SubtaskID, e.Message), color.FgMagenta)
	case orchestrator.EventCorrectionRejected:
		printStatus("⚠", fmt.Sprintf("correction rejected for %s: %s", e.SubtaskID, e.Message), color.FgYellow)
	case orchestrator.EventMergeConflict:
		printStatus("✗", fmt.Sprintf("%s merge conflict: %s", e.SubtaskID, e.Message), color.FgRed)
	case orchestrator.EventSessionDone:
		if e.Err != nil {
			printStatus("✗", "session failed: "+e.Err.Error(), color.FgRed)
		} else {
			printStatus("✓", "session done: "+e.Message, color.FgGreen)
		}
	}
}

func printStatus(symbol, message string, attr color.Attribute) {
	c := color.New(attr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// renderReport prints the final session report.
func renderReport(rep *orchestrator.Report) {
	fmt.Println()
	fmt.Println(headerStyle.Render("Session " + rep.SessionID))
	fmt.Println(dimStyle.Render(rep.Headline()))
	fmt.Println()

	for _, sr := range rep.Subtasks {
		line := fmt.Sprintf("%-28s %-10s attempts=%d", sr.ID, sr.Status, sr.Attempts)
		if sr.Worker != "" {
			line += "  " + dimStyle.Render(sr.Worker)
		}
		switch {
		case sr.BlockedBy != "":
			fmt.Println(failStyle.Render("  ⊘ ") + line + dimStyle.Render("  blocked by "+sr.BlockedBy))
		case string(sr.Status) == "completed":
			fmt.Println(okStyle.Render("  ✓ ") + line)
		case string(sr.Status) == "failed":
			fmt.Println(failStyle.Render("  ✗ ") + line)
		default:
			fmt.Println(dimStyle.Render("  · ") + line)
		}
	}

	if rep.Output != "" {
		fmt.Println()
		fmt.Println(headerStyle.Render("Output"))
		fmt.Println(rep.Output)
	}
}

// renderUsage prints the session's accumulated API token counts.
func renderUsage(input, output int64) {
	if input == 0 && output == 0 {
		return
	}
	fmt.Println()
	fmt.Println(dimStyle.Render(fmt.Sprintf("tokens: %d in, %d out", input, output)))
}

// renderSessionRows prints index entries as a table.
func renderSessionRows(rows []*state.SessionRow) {
	if len(rows) == 0 {
		fmt.Println("No sessions recorded.")
		return
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-38s %-10s %-9s %s", "SESSION", "STATE", "PROGRESS", "REQUEST")))
	for _, r := range rows {
		progress := fmt.Sprintf("%d/%d", r.SubtasksCompleted, r.SubtasksTotal)
		request := r.Request
		if len(request) > 48 {
			request = request[:48] + "..."
		}
		request = strings.ReplaceAll(request, "\n", " ")
		fmt.Printf("%-38s %-10s %-9s %s\n", r.ID, r.State, progress, dimStyle.Render(request))
	}
}
