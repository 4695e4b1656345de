package platesolve

import (
	"context"
	"fmt"
	"strings"

	"skycat/internal/header"
	"skycat/internal/model"
)

// Request describes one image to solve.
type Request struct {
	Path   string         // absolute path of the image file
	Header *header.Header // the image header as cataloged
	Known  *model.SkyPosition
}

// Solver produces a WCS header for an image.
type Solver interface {
	Solve(ctx context.Context, req Request) (*header.Header, error)
}

// SolverError reports that the solver could not run or rejected its
// input.
type SolverError struct {
	Message string
}

func (e *SolverError) Error() string {
	return "solver error: " + e.Message
}

// SolverFailure reports that the solver ran but did not converge. Log
// carries the solver's diagnostic output, when it wrote one.
type SolverFailure struct {
	Message string
	Log     []string
}

func (e *SolverFailure) Error() string {
	if len(e.Log) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d log lines)", e.Message, len(e.Log))
}

// LogText joins the diagnostic output.
func (e *SolverFailure) LogText() string {
	return strings.Join(e.Log, "\n")
}
