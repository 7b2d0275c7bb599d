package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/jonathan/resume-analyzer/internal/document"
	"github.com/jonathan/resume-analyzer/internal/extraction"
	"github.com/jonathan/resume-analyzer/internal/ident"
	"github.com/jonathan/resume-analyzer/internal/llm"
	"github.com/jonathan/resume-analyzer/internal/prompts"
	"github.com/jonathan/resume-analyzer/internal/schemas"
	"github.com/jonathan/resume-analyzer/internal/storage"
	"github.com/jonathan/resume-analyzer/internal/types"
)

// RecordWriter persists a finished analysis
type RecordWriter interface {
	Put(ctx context.Context, rec *types.AnalysisRecord) error
}

// ProgressCallback receives every status transition of a run
type ProgressCallback func(status StageStatus)

// Deps holds the collaborators of an Orchestrator
type Deps struct {
	Storage    storage.Storage
	Rasterizer document.Rasterizer
	AI         llm.Client
	Records    RecordWriter
	IDs        ident.Generator
	LLM        *llm.Config
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator runs the fixed stage sequence for one submission at a time per call.
// It holds no per-run state, so one Orchestrator serves concurrent runs.
type Orchestrator struct {
	deps Deps
}

// NewOrchestrator validates deps and fills in defaults
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Storage == nil:
		return nil, errors.New("orchestrator requires storage")
	case deps.Rasterizer == nil:
		return nil, errors.New("orchestrator requires a rasterizer")
	case deps.AI == nil:
		return nil, errors.New("orchestrator requires an AI client")
	case deps.Records == nil:
		return nil, errors.New("orchestrator requires a record store")
	}
	if err := prompts.Require(prompts.AnalysisFile, prompts.KeyResumeFeedback, prompts.KeyResumeFeedbackText); err != nil {
		return nil, fmt.Errorf("orchestrator prompts: %w", err)
	}
	if deps.IDs == nil {
		deps.IDs = ident.New()
	}
	if deps.LLM == nil {
		deps.LLM = llm.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{deps: deps}, nil
}

// NewID issues the identifier a run will persist its record under
func (o *Orchestrator) NewID() string {
	return o.deps.IDs.Next()
}

// runState carries the outputs of completed stages into later ones
type runState struct {
	id         string
	sub        *types.AnalysisSubmission
	resumePath string
	image      []byte
	imagePath  string
	reply      string
	feedback   *types.StructuredFeedback
}

type stageFunc func(ctx context.Context, st *runState) error

// Run executes every stage in order for sub under id, reporting each transition
// to report. It stops at the first failure and returns an *types.AnalysisError.
// Artifacts from completed stages are left in place.
func (o *Orchestrator) Run(ctx context.Context, id string, sub *types.AnalysisSubmission, report ProgressCallback) (string, error) {
	if report == nil {
		report = func(StageStatus) {}
	}
	logger := o.deps.Logger.With("run_id", id)
	st := &runState{id: id, sub: sub}

	stages := []struct {
		stage Stage
		run   stageFunc
	}{
		{StageUploading, o.upload},
		{StageConverting, o.convert},
		{StageUploadingPreview, o.uploadPreview},
		{StageInferring, o.infer},
		{StageExtracting, o.extract},
		{StagePersisting, o.persist},
	}

	runStart := o.deps.Now()
	for _, s := range stages {
		report(statusAt(s.stage, o.deps.Now()))
		logger.Info("stage started", "stage", s.stage.String())

		start := o.deps.Now()
		if err := s.run(ctx, st); err != nil {
			logger.Error("stage failed",
				"stage", s.stage.String(),
				"kind", string(types.KindOf(err)),
				"duration", o.deps.Now().Sub(start),
				"error", err)
			report(failedStatus(err, o.deps.Now()))
			return "", err
		}
		logger.Info("stage finished", "stage", s.stage.String(), "duration", o.deps.Now().Sub(start))
	}

	done := statusAt(StageComplete, o.deps.Now())
	done.RecordID = id
	report(done)
	logger.Info("analysis complete", "duration", o.deps.Now().Sub(runStart))
	return id, nil
}

func (o *Orchestrator) upload(ctx context.Context, st *runState) error {
	up, err := o.deps.Storage.Upload(ctx, st.sub.Document, st.sub.DocumentName())
	if err != nil {
		return types.NewError(types.KindUploadFailed, "failed to upload the resume", err)
	}
	st.resumePath = up.Path
	return nil
}

func (o *Orchestrator) convert(ctx context.Context, st *runState) error {
	img, err := o.deps.Rasterizer.Render(ctx, st.sub.Document)
	if err != nil {
		if errors.Is(err, document.ErrNoPages) {
			return types.NewError(types.KindConversionFailed, "the document has no pages", err)
		}
		return types.NewError(types.KindConversionFailed, "failed to convert the resume to an image", err)
	}
	if len(img) == 0 {
		return types.NewError(types.KindConversionFailed, "conversion produced no image", document.ErrEmptyImage)
	}
	st.image = img
	return nil
}

func (o *Orchestrator) uploadPreview(ctx context.Context, st *runState) error {
	up, err := o.deps.Storage.Upload(ctx, st.image, previewName(st.sub.DocumentName()))
	if err != nil {
		return types.NewError(types.KindUploadFailed, "failed to upload the preview image", err)
	}
	st.imagePath = up.Path
	return nil
}

func (o *Orchestrator) infer(ctx context.Context, st *runState) error {
	prompt, opts, err := o.buildRequest(st)
	if err != nil {
		return types.NewError(types.KindInferenceFailed, "failed to build the analysis prompt", err)
	}

	resp, err := o.deps.AI.Chat(ctx, prompt, opts)
	if err != nil {
		return types.NewError(types.KindInferenceFailed, "the AI service failed", err)
	}
	if resp == nil {
		return types.NewError(types.KindInferenceFailed, "the AI service returned no response", nil)
	}
	text, err := resp.Message.Content.FirstText()
	if err != nil {
		return types.NewError(types.KindInferenceFailed, "the AI response has no text content", err)
	}
	st.reply = text
	return nil
}

// buildRequest renders the prompt for the configured inference mode. File mode
// attaches the uploaded PDF; text mode inlines its extracted text instead.
func (o *Orchestrator) buildRequest(st *runState) (string, llm.ChatOptions, error) {
	cfg := o.deps.LLM
	temperature := cfg.Temperature
	opts := llm.ChatOptions{Model: cfg.Model(), Temperature: &temperature}

	data := map[string]string{
		"CompanyName":    st.sub.CompanyName,
		"JobTitle":       st.sub.JobTitle,
		"JobDescription": st.sub.JobDescription,
		"ResponseFormat": schemas.FeedbackSchema,
	}

	key := prompts.KeyResumeFeedback
	if cfg.Mode == llm.ModeText {
		text, err := document.ExtractText(st.sub.Document)
		if err != nil {
			return "", opts, fmt.Errorf("failed to extract resume text: %w", err)
		}
		data["ResumeText"] = text
		key = prompts.KeyResumeFeedbackText
	} else {
		opts.File = &llm.Attachment{
			Ref:      st.resumePath,
			MIMEType: types.PDFMimeType,
			Data:     st.sub.Document,
		}
	}

	prompt, err := prompts.Render(prompts.AnalysisFile, key, data)
	if err != nil {
		return "", opts, err
	}
	return prompt, opts, nil
}

func (o *Orchestrator) extract(_ context.Context, st *runState) error {
	fb, err := extraction.Extract(st.reply)
	if err != nil {
		return err
	}
	st.feedback = fb
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, st *runState) error {
	rec := &types.AnalysisRecord{
		ID:             st.id,
		ResumePath:     st.resumePath,
		ImagePath:      st.imagePath,
		CompanyName:    st.sub.CompanyName,
		JobTitle:       st.sub.JobTitle,
		JobDescription: st.sub.JobDescription,
		Feedback:       *st.feedback,
		CreatedAt:      o.deps.Now().UTC(),
	}
	if err := o.deps.Records.Put(ctx, rec); err != nil {
		if types.IsKind(err, types.KindPersistenceFailed) {
			return err
		}
		return types.NewError(types.KindPersistenceFailed, "failed to save the analysis", err)
	}
	return nil
}

// previewName turns "cv.pdf" into "cv.png"
func previewName(filename string) string {
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	if stem == "" {
		stem = "resume"
	}
	return stem + ".png"
}
