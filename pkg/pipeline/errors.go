package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a pipeline step.
type Stage string

const (
	StageBuild     Stage = "build"
	StageEmbed     Stage = "embed"
	StageDetect    Stage = "detect"
	StageEnumerate Stage = "enumerate"
	StageRank      Stage = "rank"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageBuild, StageEmbed, StageDetect, StageEnumerate, StageRank}

// ErrPipelineFailed matches every StageError.
var ErrPipelineFailed = errors.New("pipeline failure")

// StageError reports a failure inside one stage. Input validation errors are
// not wrapped; they surface as *events.ValidationError.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failure at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrPipelineFailed, e.Err}
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
