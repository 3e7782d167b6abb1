package fleet

import (
	"fmt"
	"strings"
)

// ResolutionError means no candidate column produced a single plate-shaped
// sample. It signals schema drift in the external table and carries the full
// scoring so operators can see what was tried.
type ResolutionError struct {
	Table      string
	Candidates []Candidate
	Probed     []string
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Name, c.Score))
	}
	return fmt.Sprintf("fleet: no identifier column found in %s (probed %d of %d candidates: %s)",
		e.Table, len(e.Probed), len(e.Candidates), strings.Join(parts, ", "))
}
