// Package pipeline sequences the resume analysis stages and exposes their progress.
package pipeline

import (
	"fmt"
	"time"

	"github.com/jonathan/resume-analyzer/internal/types"
)

// Stage is one state of the closed run state machine. Values are ordered;
// a run only ever moves to a larger value.
type Stage int

// Stages in execution order
const (
	StageIdle Stage = iota
	StageUploading
	StageConverting
	StageUploadingPreview
	StageInferring
	StageExtracting
	StagePersisting
	StageComplete
	StageFailed
)

var stageNames = [...]string{
	StageIdle:             "idle",
	StageUploading:        "uploading",
	StageConverting:       "converting",
	StageUploadingPreview: "uploading_preview",
	StageInferring:        "inferring",
	StageExtracting:       "extracting",
	StagePersisting:       "persisting",
	StageComplete:         "complete",
	StageFailed:           "failed",
}

var stageMessages = [...]string{
	StageIdle:             "Waiting to start",
	StageUploading:        "Uploading the file...",
	StageConverting:       "Converting to image...",
	StageUploadingPreview: "Uploading the image...",
	StageInferring:        "Analyzing...",
	StageExtracting:       "Reading the feedback...",
	StagePersisting:       "Saving the analysis...",
	StageComplete:         "Analysis complete",
	StageFailed:           "Analysis failed",
}

// WorkStages lists the stages that do work, in order
var WorkStages = []Stage{
	StageUploading,
	StageConverting,
	StageUploadingPreview,
	StageInferring,
	StageExtracting,
	StagePersisting,
}

func (s Stage) valid() bool {
	return s >= StageIdle && s <= StageFailed
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Terminal reports whether no transition can follow s
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// MarshalText encodes the stage by name
func (s Stage) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText decodes a stage name
func (s *Stage) UnmarshalText(text []byte) error {
	for i, name := range stageNames {
		if name == string(text) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}

// StageStatus is one observable state of a run
type StageStatus struct {
	Stage    Stage           `json:"stage"`
	Message  string          `json:"message"`
	Kind     types.ErrorKind `json:"kind,omitempty"`
	RecordID string          `json:"id,omitempty"`
	At       time.Time       `json:"at"`
}

func statusAt(stage Stage, at time.Time) StageStatus {
	return StageStatus{Stage: stage, Message: stageMessages[stage], At: at}
}

func failedStatus(err error, at time.Time) StageStatus {
	return StageStatus{
		Stage:   StageFailed,
		Message: err.Error(),
		Kind:    types.KindOf(err),
		At:      at,
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
