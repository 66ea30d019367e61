package usecase

import (
	"errors"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

type State int

const (
	StatePending State = iota
	StateValidated
)

func (s State) String() string {
	if s == StateValidated {
		return "validated"
	}
	return "pending"
}

// Orchestrator owns the current (data, result) slot of one form. Every data
// change replaces the slot wholesale after running both validators; nothing is
// carried over between calls. It is not safe for concurrent use; callers
// serialize access (see SessionService).
type Orchestrator struct {
	schema *domain.FormSchema
	state  State
	data   domain.FormData
	result domain.ValidationResult
}

func NewOrchestrator(schema *domain.FormSchema) (*Orchestrator, error) {
	if schema == nil {
		return nil, errors.New("orchestrator: schema is nil")
	}
	return &Orchestrator{
		schema: schema,
		result: domain.ValidationResult{StructuralErrors: domain.StructuralErrors{}},
	}, nil
}

// OnDataChange validates a full snapshot and stores it as current.
func (o *Orchestrator) OnDataChange(data domain.FormData) domain.ValidationResult {
	snapshot := data.Clone()
	if snapshot == nil {
		snapshot = domain.FormData{}
	}

	structural := ValidateStructure(o.schema, snapshot)
	aggregate := ValidateAggregate(snapshot.Rows())

	o.data = snapshot
	o.result = domain.NewValidationResult(structural, aggregate)
	o.state = StateValidated
	return o.result.Clone()
}

// Result returns the latest result. While pending it has no errors and
// IsValid is false.
func (o *Orchestrator) Result() domain.ValidationResult {
	return o.result.Clone()
}

// Data returns a copy of the current snapshot, or nil while pending.
func (o *Orchestrator) Data() domain.FormData {
	return o.data.Clone()
}

func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) Schema() *domain.FormSchema {
	return o.schema
}
