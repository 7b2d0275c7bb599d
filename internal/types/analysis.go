// Package types provides type definitions for structured data used throughout the resume analyzer.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// DefaultFilename is used when a submission arrives without a file name
const DefaultFilename = "resume.pdf"

// PDFMimeType is the only document type accepted by the pipeline
const PDFMimeType = "application/pdf"

// AnalysisSubmission is the immutable input of one analysis run
type AnalysisSubmission struct {
	CompanyName    string `json:"companyName" validate:"max=200"`
	JobTitle       string `json:"jobTitle" validate:"max=200"`
	JobDescription string `json:"jobDescription" validate:"max=20000"`
	Filename       string `json:"filename,omitempty" validate:"omitempty,max=255"`
	Document       []byte `json:"-" validate:"required,min=1"`
}

// Validate checks field bounds, the size limit and that the document is a PDF.
// A non-positive maxBytes disables the size check.
func (s *AnalysisSubmission) Validate(maxBytes int64) error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return NewError(KindInvalidSubmission, "submission failed validation", err)
	}
	if maxBytes > 0 && int64(len(s.Document)) > maxBytes {
		return NewError(KindInvalidSubmission,
			fmt.Sprintf("document is %d bytes, limit is %d", len(s.Document), maxBytes), nil)
	}
	if mt := mimetype.Detect(s.Document); !mt.Is(PDFMimeType) {
		return NewError(KindInvalidSubmission,
			fmt.Sprintf("document must be a PDF, got %s", mt.String()), nil)
	}
	return nil
}

// DocumentName returns the submitted file name or DefaultFilename
func (s *AnalysisSubmission) DocumentName() string {
	if s.Filename == "" {
		return DefaultFilename
	}
	return s.Filename
}

// AnalysisRecord is the persisted outcome of one completed run.
// It is written once under its ID and never mutated afterwards.
type AnalysisRecord struct {
	ID             string             `json:"id"`
	ResumePath     string             `json:"resumePath"`
	ImagePath      string             `json:"imagePath"`
	CompanyName    string             `json:"companyName"`
	JobTitle       string             `json:"jobTitle"`
	JobDescription string             `json:"jobDescription"`
	Feedback       StructuredFeedback `json:"feedback"`
	CreatedAt      time.Time          `json:"createdAt,omitzero"`
}

// StructuredFeedback is the scored review returned by the model
type StructuredFeedback struct {
	OverallScore float64          `json:"overallScore"`
	ToneAndStyle CategoryFeedback `json:"toneAndStyle"`
	Content      CategoryFeedback `json:"content"`
	Structure    CategoryFeedback `json:"structure"`
	Skills       CategoryFeedback `json:"skills"`
	ATS          CategoryFeedback `json:"ATS"`
}

// CategoryFeedback holds one sub-score (0-100) and its suggestions
type CategoryFeedback struct {
	Score float64 `json:"score"`
	Tips  []Tip   `json:"tips,omitempty"`
}

// Tip types used by the response format
const (
	TipGood    = "good"
	TipImprove = "improve"
)

// Tip is a single suggestion. Models sometimes send tips as bare strings,
// which decode into a Tip with only Tip set.
type Tip struct {
	Type        string `json:"type,omitempty"`
	Tip         string `json:"tip"`
	Explanation string `json:"explanation,omitempty"`
}

// UnmarshalJSON accepts either a tip object or a plain string
func (t *Tip) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Tip{Tip: s}
		return nil
	}

	type plain Tip
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tip(p)
	return nil
}
