package graph

import (
	"errors"
	"fmt"
)

// ErrResolutionConflict marks a relationship mention whose endpoint could
// not be mapped to a canonical entity, even after the deferred second pass
// of a batch. Such relations are dropped and counted, never silently
// ignored.
var ErrResolutionConflict = errors.New("relationship endpoint could not be resolved")

// InvariantViolation reports a mutation that would break a structural graph
// invariant (a self-loop edge, or an edge with a missing endpoint). It is
// fatal to that single mutation, not to the run.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("graph invariant violated in %s: %s", e.Op, e.Detail)
}
