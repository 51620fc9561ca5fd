package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxNodes is the default ceiling on closure size for one pass.
// A pass whose affected closure is larger than this fails before any
// cell is evaluated, so a pathological fan-out cannot pin the writer.
const DefaultMaxNodes = 100000

// NodesExceededError is returned when a pass's affected closure is
// larger than the configured ceiling. The pass terminates in FAILED
// before evaluation starts; the grid is untouched.
type NodesExceededError struct {
	Token string // pass that tripped the ceiling
	Nodes int    // closure size
	Limit int    // configured maximum
}

func (e *NodesExceededError) Error() string {
	return fmt.Sprintf("pass %s closure of %d nodes exceeds limit %d",
		e.Token, e.Nodes, e.Limit)
}

// IsNodesExceededError reports whether err is a NodesExceededError,
// unwrapping as needed.
func IsNodesExceededError(err error) bool {
	var ne *NodesExceededError
	return errors.As(err, &ne)
}
