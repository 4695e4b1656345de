package app

import "strings"

// Operation tracks a CLI command that may mutate the catalog.
// Operations are created in memory with ID=0. Only mutating commands
// persist them, which gives them an id from the database; that id also
// versions the catalog snapshot uploaded when the command ends.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewOperation creates a new in-memory operation. args are joined into
// its parameters.
func NewOperation(operation string, args ...string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: strings.Join(args, " "),
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
