package workflow

import (
	"errors"
	"fmt"
)

// Validate checks a definition: step ids are unique, guards name exactly a
// key and a value, and tool inputs are mappings. A guard key that never gets
// a value is not an error; the guarded step is skipped at run time.
func Validate(d Definition) error {
	if len(d.Steps) == 0 {
		return errors.New("workflow has no steps")
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, ss := range d.Steps {
		id := stepID(ss, i)
		if seen[id] {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = true

		if ss.If != nil {
			if len(ss.If.Equals) != 2 {
				return fmt.Errorf("step %q: guard needs [key, value], got %d element(s)", id, len(ss.If.Equals))
			}
		}

		if ss.Tool != "" && ss.Input != nil {
			if _, ok := ss.Input.(map[string]any); !ok {
				return fmt.Errorf("step %q: tool input must be a mapping", id)
			}
		}
	}
	return nil
}
