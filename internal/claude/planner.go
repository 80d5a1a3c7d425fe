package claude

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/jpaulson/flotilla/pkg/models"
)

const plannerSystem = `You are a planning assistant that decomposes software engineering requests into a dependency-ordered set of subtasks.

Rules:
- Each subtask must be independently executable given only its dependencies' outputs.
- depends_on must reference only IDs of subtasks in your own plan, and must not form cycles.
- Prefer wide plans over deep ones: subtasks with no mutual data dependency must not depend on each other.
- Respond with ONLY a JSON object, no prose before or after.`

const plannerPromptTemplate = `Decompose the following request into subtasks.

Request:
%s
%s
Respond with a JSON object of this shape:
{
  "summary": "one-line plan summary",
  "strategy": "serial" | "parallel" | "mixed",
  "complexity": "low" | "medium" | "high",
  "success_criteria": ["..."],
  "subtasks": [
    {
      "id": "task-1",
      "title": "...",
      "description": "...",
      "complexity": "low" | "medium" | "high",
      "task_type": "code" | "research" | "docs" | "test" | "refactor",
      "depends_on": ["task-0"],
      "success_criteria": ["..."]
    }
  ]
}`

// APIPlanner decomposes requests into plans via the Anthropic API.
type APIPlanner struct {
	client *Client
	model  anthropic.Model
}

// NewAPIPlanner creates a planner on the given model. Planning always
// happens on a single fixed model, not on the worker roster.
func NewAPIPlanner(client *Client, model anthropic.Model) *APIPlanner {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	return &APIPlanner{client: client, model: model}
}

type planDTO struct {
	Summary         string       `json:"summary"`
	Strategy        string       `json:"strategy"`
	Complexity      string       `json:"complexity"`
	SuccessCriteria []string     `json:"success_criteria"`
	Subtasks        []subtaskDTO `json:"subtasks"`
}

type subtaskDTO struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Complexity      string   `json:"complexity"`
	TaskType        string   `json:"task_type"`
	DependsOn       []string `json:"depends_on"`
	SuccessCriteria []string `json:"success_criteria"`
}

// Decompose implements orchestrator.Planner.
func (p *APIPlanner) Decompose(ctx context.Context, request, sessionContext string) (*models.Plan, error) {
	contextSection := ""
	if sessionContext != "" {
		contextSection = fmt.Sprintf("\nPrior session context:\n%s\n", sessionContext)
	}
	prompt := fmt.Sprintf(plannerPromptTemplate, request, contextSection)

	var dto planDTO
	if err := p.client.runJSON(ctx, p.model, 8192, plannerSystem, prompt, &dto); err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	if len(dto.Subtasks) == 0 {
		return nil, fmt.Errorf("decompose: empty subtask list returned")
	}

	plan := &models.Plan{
		ID:              uuid.New().String(),
		Summary:         dto.Summary,
		Strategy:        models.ExecutionStrategy(dto.Strategy),
		Complexity:      models.Complexity(dto.Complexity),
		SuccessCriteria: dto.SuccessCriteria,
		CreatedAt:       time.Now(),
	}
	if plan.Strategy == "" {
		plan.Strategy = models.StrategyMixed
	}

	seen := make(map[string]bool, len(dto.Subtasks))
	for i, s := range dto.Subtasks {
		id := s.ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("task-%d", i+1)
		}
		seen[id] = true
		plan.Subtasks = append(plan.Subtasks, &models.Subtask{
			ID:              id,
			Title:           s.Title,
			Description:     s.Description,
			Complexity:      models.Complexity(s.Complexity),
			TaskType:        s.TaskType,
			DependsOn:       s.DependsOn,
			SuccessCriteria: s.SuccessCriteria,
			Status:          models.StatusPending,
		})
	}
	return plan, nil
}
