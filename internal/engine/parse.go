package engine

import (
	"encoding/json"
	"strings"

	"github.com/haneulab/deepresearch/internal/research"
)

// rawSubtask tolerates both the current supervisor schema and the legacy
// research_question key some models echo back from examples.
type rawSubtask struct {
	Question         string `json:"question"`
	ResearchQuestion string `json:"research_question"`
	Description      string `json:"description"`
}

// parseSubtasks extracts a JSON task list from a supervisor reply. Models
// wrap the list in prose more often than not, so everything outside the
// outermost brackets is ignored. A reply with no parsable list yields nil.
func parseSubtasks(reply string) []research.Subtask {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil
	}
	var raw []rawSubtask
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil
	}
	out := make([]research.Subtask, 0, len(raw))
	for _, r := range raw {
		q := strings.TrimSpace(r.Question)
		if q == "" {
			q = strings.TrimSpace(r.ResearchQuestion)
		}
		if q == "" {
			continue
		}
		out = append(out, research.Subtask{
			Question:    q,
			Description: strings.TrimSpace(r.Description),
		})
	}
	return out
}

// dedupeSubtasks collapses duplicates inside the batch and drops any task
// already proposed in a previous iteration. Equality is textual after
// trimming and case folding.
func dedupeSubtasks(batch []research.Subtask, existing []research.Subtask) []research.Subtask {
	seen := make(map[string]struct{}, len(existing)+len(batch))
	for _, t := range existing {
		seen[taskKey(t.Question)] = struct{}{}
	}
	out := make([]research.Subtask, 0, len(batch))
	for _, t := range batch {
		key := taskKey(t.Question)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func taskKey(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
