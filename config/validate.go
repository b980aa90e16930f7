package config

import (
	_ "embed"
	"encoding/json"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/wippyai/vlsim/errors"
)

//go:embed schema.cue
var schemaSource []byte

// Validator checks projects against the embedded CUE schema.
type Validator struct {
	ctx     *cue.Context
	project cue.Value
}

var (
	validatorOnce sync.Once
	validator     *Validator
	validatorErr  error
)

func defaultValidator() (*Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = NewValidator()
	})
	return validator, validatorErr
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource)
	if schema.Err() != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, schema.Err(), "compile schema")
	}
	project := schema.LookupPath(cue.ParsePath("#Project"))
	if project.Err() != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, project.Err(), "look up #Project")
	}
	return &Validator{ctx: ctx, project: project}, nil
}

// Validate unifies p with #Project and reports every violation.
func (v *Validator) Validate(p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "encode project")
	}
	value := v.ctx.CompileBytes(data)
	if value.Err() != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, value.Err(), "compile project")
	}

	unified := v.project.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindPrecondition).
			Cause(err).
			Detail("%s", cueerrors.Details(err, nil)).
			Build()
	}
	return nil
}
