// Package validation checks task plans before they reach an agent.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kumbuk/orchestrator/internal/models"
)

// PlanError lists every problem found in a plan.
type PlanError struct {
	Problems []string
}

func (e *PlanError) Error() string {
	return "invalid task plan: " + strings.Join(e.Problems, "; ")
}

// ValidatePlan checks the structural rules every plan must satisfy: at
// least one subtask, unique task ids, priorities numbered 1..n in order, at
// least one required step, a known strategy and a positive estimate.
func ValidatePlan(p *models.TaskPlan) error {
	if p == nil {
		return errors.New("invalid task plan: nil")
	}
	var problems []string
	if len(p.Subtasks) == 0 {
		problems = append(problems, "no subtasks")
	}

	seen := make(map[string]bool, len(p.Subtasks))
	required := false
	for i, st := range p.Subtasks {
		switch {
		case st.TaskID == "":
			problems = append(problems, fmt.Sprintf("subtask %d has no id", i+1))
		case seen[st.TaskID]:
			problems = append(problems, fmt.Sprintf("duplicate subtask id %q", st.TaskID))
		}
		seen[st.TaskID] = true
		if st.Priority != i+1 {
			problems = append(problems, fmt.Sprintf("subtask %q has priority %d, want %d", st.TaskID, st.Priority, i+1))
		}
		required = required || st.Required
	}
	if len(p.Subtasks) > 0 && !required {
		problems = append(problems, "no required subtask")
	}
	if p.ExecutionStrategy != models.ExecutionStrategySequential {
		problems = append(problems, fmt.Sprintf("unknown execution strategy %q", p.ExecutionStrategy))
	}
	if p.EstimatedDurationMs <= 0 {
		problems = append(problems, "estimated duration must be positive")
	}

	if len(problems) > 0 {
		return &PlanError{Problems: problems}
	}
	return nil
}
