package claude

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jpaulson/flotilla/pkg/models"
)

const executorSystem = `You are a capable software engineering agent executing one subtask of a larger plan.

You receive a briefing describing the session state, the work of sibling agents, and your subtask. Do the work described in the subtask, nothing more.

Respond with ONLY a JSON object:
{
  "output": "your complete work product: the code, document, or analysis the subtask asked for",
  "summary": "one line describing what you produced",
  "files": ["relative paths of files you created or modified, if any"],
  "commands": ["shell commands you would run to apply or verify the work, if any"]
}`

// APIExecutor runs subtasks via the Anthropic API, one completion per
// attempt on the worker's model.
type APIExecutor struct {
	client *Client
}

// NewAPIExecutor creates an executor backed by the given client.
func NewAPIExecutor(client *Client) *APIExecutor {
	return &APIExecutor{client: client}
}

type executionDTO struct {
	Output   string   `json:"output"`
	Summary  string   `json:"summary"`
	Files    []string `json:"files"`
	Commands []string `json:"commands"`
}

// Execute implements orchestrator.Executor. The worker's ID is the model
// name; its Timeout bounds the attempt independently of the session
// context.
func (e *APIExecutor) Execute(ctx context.Context, st *models.Subtask, w *models.Worker, dependencyResults map[string]*models.SubtaskResult, briefing string) (*models.SubtaskResult, error) {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	prompt := buildExecutionPrompt(st, dependencyResults, briefing)

	start := time.Now()
	var dto executionDTO
	if err := e.client.runJSON(ctx, anthropic.Model(w.ID), int64(w.MaxTokens), executorSystem, prompt, &dto); err != nil {
		return nil, err
	}
	if dto.Output == "" {
		return &models.SubtaskResult{
			SubtaskID:   st.ID,
			Success:     false,
			ModelUsed:   w.ID,
			ReviewNotes: "worker returned an empty work product",
			DurationMs:  time.Since(start).Milliseconds(),
			Timestamp:   time.Now(),
		}, nil
	}

	return &models.SubtaskResult{
		SubtaskID:  st.ID,
		Success:    true,
		ModelUsed:  w.ID,
		Output:     dto.Output,
		Summary:    dto.Summary,
		Files:      dto.Files,
		Commands:   dto.Commands,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now(),
	}, nil
}

// buildExecutionPrompt assembles the subtask prompt: briefing first, then
// upstream outputs in stable order, then the subtask itself.
func buildExecutionPrompt(st *models.Subtask, deps map[string]*models.SubtaskResult, briefing string) string {
	var b strings.Builder

	if briefing != "" {
		b.WriteString(briefing)
		b.WriteString("\n\n")
	}

	if len(deps) > 0 {
		b.WriteString("## Upstream results\n\n")
		ids := make([]string, 0, len(deps))
		for id := range deps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", id, deps[id].Output)
		}
	}

	fmt.Fprintf(&b, "## Your subtask: %s\n\n%s\n", st.Title, st.Description)
	if len(st.SuccessCriteria) > 0 {
		b.WriteString("\nSuccess criteria:\n")
		for _, c := range st.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if st.WorkDir != "" {
		fmt.Fprintf(&b, "\nWorking directory: %s\n", st.WorkDir)
	}
	return b.String()
}
