package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jpaulson/flotilla/internal/orchestrator"
	"github.com/jpaulson/flotilla/pkg/models"
)

const reviewerSystem = `You are a strict reviewer judging whether a subtask's work product satisfies its success criteria.

If, while reviewing, you discover that an ALREADY COMPLETED upstream subtask produced defective output that this subtask depended on, report it by including the marker [flow-correction: <upstream-task-id>] followed by the defect description in your reason.

Respond with ONLY a JSON object:
{
  "success": true | false,
  "reason": "verdict explanation; include the flow-correction marker here when applicable"
}`

const reviewerPromptTemplate = `## Subtask: %s

%s

Success criteria:
%s

## Work product (model %s)

%s

Judge whether the work product satisfies every criterion.`

// APIReviewer judges subtask results via the Anthropic API.
type APIReviewer struct {
	client *Client
	model  anthropic.Model
}

// NewAPIReviewer creates a reviewer on the given model.
func NewAPIReviewer(client *Client, model anthropic.Model) *APIReviewer {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	return &APIReviewer{client: client, model: model}
}

type reviewDTO struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// Review implements orchestrator.Reviewer.
func (r *APIReviewer) Review(ctx context.Context, st *models.Subtask, result *models.SubtaskResult) (*orchestrator.ReviewJudgment, error) {
	criteria := "- (none stated; judge against the description)"
	if len(st.SuccessCriteria) > 0 {
		var b strings.Builder
		for _, c := range st.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		criteria = strings.TrimRight(b.String(), "\n")
	}

	prompt := fmt.Sprintf(reviewerPromptTemplate,
		st.Title, st.Description, criteria, result.ModelUsed, result.Output)

	var dto reviewDTO
	if err := r.client.runJSON(ctx, r.model, 2048, reviewerSystem, prompt, &dto); err != nil {
		return nil, fmt.Errorf("review %s: %w", st.ID, err)
	}

	return &orchestrator.ReviewJudgment{
		Success:    dto.Success,
		Reason:     dto.Reason,
		Correction: orchestrator.ParseCorrectionSignal(dto.Reason),
	}, nil
}
