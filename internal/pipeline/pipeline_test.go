package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-analyzer/internal/document"
	"github.com/jonathan/resume-analyzer/internal/kv"
	"github.com/jonathan/resume-analyzer/internal/llm"
	"github.com/jonathan/resume-analyzer/internal/records"
	"github.com/jonathan/resume-analyzer/internal/storage"
	"github.com/jonathan/resume-analyzer/internal/testutil"
	"github.com/jonathan/resume-analyzer/internal/types"
)

const acmeReply = `Sure! {"overallScore":82,"toneAndStyle":{"score":80},"content":{"score":75},"structure":{"score":90},"skills":{"score":85},"ATS":{"score":70,"tips":["Add keywords"]}} Hope that helps!`

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

// flakyStorage wraps an in-memory store and fails the nth upload (1-based)
type flakyStorage struct {
	*storage.FS
	failOn int

	mu    sync.Mutex
	calls int
	paths []string
}

func (s *flakyStorage) Upload(ctx context.Context, data []byte, filename string) (*storage.Upload, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n == s.failOn {
		return nil, errors.New("bucket unavailable")
	}
	up, err := s.FS.Upload(ctx, data, filename)
	if err == nil {
		s.mu.Lock()
		s.paths = append(s.paths, up.Path)
		s.mu.Unlock()
	}
	return up, err
}

type fakeRasterizer struct {
	image []byte
	err   error
}

func (f fakeRasterizer) Render(context.Context, []byte) ([]byte, error) {
	return f.image, f.err
}

type fakeAI struct {
	resp *llm.ChatResponse
	err  error

	mu      sync.Mutex
	prompts []string
	opts    []llm.ChatOptions
}

func (f *fakeAI) Chat(_ context.Context, prompt string, opts llm.ChatOptions) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	return f.resp, f.err
}

func (f *fakeAI) Close() error { return nil }

func reply(text string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: llm.TextContent(text)}}
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%03d", s.n)
}

type harness struct {
	storage *flakyStorage
	ai      *fakeAI
	store   *records.Store
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		storage: &flakyStorage{FS: storage.NewMemory()},
		ai:      &fakeAI{resp: reply(acmeReply)},
		store:   records.NewStore(kv.NewMemory(), nil),
	}
	h.deps = Deps{
		Storage:    h.storage,
		Rasterizer: fakeRasterizer{image: fakePNG},
		AI:         h.ai,
		Records:    h.store,
		IDs:        &seqIDs{},
	}
	return h
}

func (h *harness) controller(t *testing.T, opts ...ControllerOption) *Controller {
	t.Helper()
	orch, err := NewOrchestrator(h.deps)
	require.NoError(t, err)
	return NewController(orch, Session{Subject: "user-1"}, opts...)
}

func acmeSubmission() *types.AnalysisSubmission {
	return &types.AnalysisSubmission{
		CompanyName:    "Acme",
		JobTitle:       "Engineer",
		JobDescription: "Build things",
		Filename:       "cv.pdf",
		Document:       testutil.BuildPDF("Jane Doe", "Go Engineer"),
	}
}

func collect(t *testing.T, run *Run) []StageStatus {
	t.Helper()
	var got []StageStatus
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-run.Updates():
			if !ok {
				return got
			}
			got = append(got, s)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func stagesOf(statuses []StageStatus) []Stage {
	out := make([]Stage, len(statuses))
	for i, s := range statuses {
		out[i] = s.Stage
	}
	return out
}

func TestController_EmitsStagesInOrder(t *testing.T) {
	h := newHarness(t)
	run, err := h.controller(t).Submit(context.Background(), acmeSubmission())
	require.NoError(t, err)

	statuses := collect(t, run)
	assert.Equal(t, []Stage{
		StageUploading,
		StageConverting,
		StageUploadingPreview,
		StageInferring,
		StageExtracting,
		StagePersisting,
		StageComplete,
	}, stagesOf(statuses))

	last := statuses[len(statuses)-1]
	assert.Equal(t, run.ID(), last.RecordID)
	assert.Empty(t, last.Kind)

	id, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, "run-001", id)
}

func TestController_AcmeEndToEnd(t *testing.T) {
	h := newHarness(t)
	run, err := h.controller(t).Submit(context.Background(), acmeSubmission())
	require.NoError(t, err)

	id, err := run.Wait()
	require.NoError(t, err)

	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 82.0, rec.Feedback.OverallScore)
	assert.Equal(t, []types.Tip{{Tip: "Add keywords"}}, rec.Feedback.ATS.Tips)
	assert.Equal(t, "Acme", rec.CompanyName)
	assert.Equal(t, "Engineer", rec.JobTitle)
	assert.Equal(t, "Build things", rec.JobDescription)
	assert.False(t, rec.CreatedAt.IsZero())

	// both paths point at real artifacts
	pdf, err := h.storage.Read(context.Background(), rec.ResumePath)
	require.NoError(t, err)
	assert.Equal(t, acmeSubmission().Document, pdf)
	assert.True(t, strings.HasSuffix(rec.ResumePath, "/cv.pdf"))

	img, err := h.storage.Read(context.Background(), rec.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, img)
	assert.True(t, strings.HasSuffix(rec.ImagePath, "/cv.png"))
}

func TestController_InferenceRequest(t *testing.T) {
	h := newHarness(t)
	run, err := h.controller(t).Submit(context.Background(), acmeSubmission())
	require.NoError(t, err)
	_, err = run.Wait()
	require.NoError(t, err)

	require.Len(t, h.ai.prompts, 1)
	prompt := h.ai.prompts[0]
	assert.Contains(t, prompt, "Company: Acme")
	assert.Contains(t, prompt, "Job title: Engineer")
	assert.Contains(t, prompt, "Build things")
	assert.Contains(t, prompt, `"overallScore"`)
	assert.NotContains(t, prompt, "{{.")

	opts := h.ai.opts[0]
	require.NotNil(t, opts.File)
	assert.Equal(t, h.storage.paths[0], opts.File.Ref)
	assert.Equal(t, types.PDFMimeType, opts.File.MIMEType)
	assert.Equal(t, llm.DefaultConfig().Model(), opts.Model)
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, llm.DefaultTemperature, *opts.Temperature)
}

func TestController_TextModeInlinesResume(t *testing.T) {
	h := newHarness(t)
	cfg := llm.DefaultConfig()
	cfg.Mode = llm.ModeText
	h.deps.LLM = cfg

	run, err := h.controller(t).Submit(context.Background(), acmeSubmission())
	require.NoError(t, err)
	_, err = run.Wait()
	require.NoError(t, err)

	assert.Nil(t, h.ai.opts[0].File)
	assert.Contains(t, h.ai.prompts[0], "Jane Doe")
}

func TestController_StageFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		failedAt  Stage
		kind      types.ErrorKind
		artifacts int
	}{
		{
			name:     "upload",
			setup:    func(h *harness) { h.storage.failOn = 1 },
			failedAt: StageUploading,
			kind:     types.KindUploadFailed,
		},
		{
			name:      "convert",
			setup:     func(h *harness) { h.deps.Rasterizer = fakeRasterizer{err: errors.New("pdftoppm crashed")} },
			failedAt:  StageConverting,
			kind:      types.KindConversionFailed,
			artifacts: 1,
		},
		{
			name:      "empty image",
			setup:     func(h *harness) { h.deps.Rasterizer = fakeRasterizer{} },
			failedAt:  StageConverting,
			kind:      types.KindConversionFailed,
			artifacts: 1,
		},
		{
			name:      "preview upload",
			setup:     func(h *harness) { h.storage.failOn = 2 },
			failedAt:  StageUploadingPreview,
			kind:      types.KindUploadFailed,
			artifacts: 1,
		},
		{
			name:      "inference error",
			setup:     func(h *harness) { h.ai.err = errors.New("quota exceeded") },
			failedAt:  StageInferring,
			kind:      types.KindInferenceFailed,
			artifacts: 2,
		},
		{
			name:      "no response",
			setup:     func(h *harness) { h.ai.resp = nil },
			failedAt:  StageInferring,
			kind:      types.KindInferenceFailed,
			artifacts: 2,
		},
		{
			name: "first part not text",
			setup: func(h *harness) {
				h.ai.resp = &llm.ChatResponse{Message: llm.Message{Content: llm.PartsContent(llm.ContentPart{Type: "image"})}}
			},
			failedAt:  StageInferring,
			kind:      types.KindInferenceFailed,
			artifacts: 2,
		},
		{
			name:      "no json",
			setup:     func(h *harness) { h.ai.resp = reply("I cannot review this resume.") },
			failedAt:  StageExtracting,
			kind:      types.KindMalformedAIOutput,
			artifacts: 2,
		},
		{
			name: "persist",
			setup: func(h *harness) {
				// the id is already taken, so the immutable store refuses the write
				require.NoError(t, h.store.Put(context.Background(), &types.AnalysisRecord{ID: "run-001"}))
			},
			failedAt:  StagePersisting,
			kind:      types.KindPersistenceFailed,
			artifacts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			run, err := h.controller(t).Submit(context.Background(), acmeSubmission())
			require.NoError(t, err)

			statuses := collect(t, run)
			require.GreaterOrEqual(t, len(statuses), 2)

			last := statuses[len(statuses)-1]
			assert.Equal(t, StageFailed, last.Stage)
			assert.Equal(t, tt.kind, last.Kind)
			assert.NotEmpty(t, last.Message)
			assert.Equal(t, tt.failedAt, statuses[len(statuses)-2].Stage)

			_, err = run.Wait()
			assert.True(t, types.IsKind(err, tt.kind), "got %v", err)

			// no retries and no rollback
			assert.Len(t, h.storage.paths, tt.artifacts)
			assert.LessOrEqual(t, len(h.ai.prompts), 1)
		})
	}
}

type pdfConverter struct{ calls int }

func (c *pdfConverter) Name() string { return "fake" }

func (c *pdfConverter) Convert(_ context.Context, _, out string, _ int) error {
	c.calls++
	return os.WriteFile(out, fakePNG, 0o600)
}

func TestController_ZeroPageDocumentFailsConversion(t *testing.T) {
	h := newHarness(t)
	conv := &pdfConverter{}
	poppler := document.NewPoppler(nil)
	poppler.Converters = []document.Converter{conv}
	h.deps.Rasterizer = poppler

	sub := acmeSubmission()
	sub.Document = testutil.BuildPDF()

	run, err := h.controller(t).Submit(context.Background(), sub)
	require.NoError(t, err)

	_, err = run.Wait()
	assert.True(t, types.IsKind(err, types.KindConversionFailed))
	assert.ErrorIs(t, err, document.ErrNoPages)
	assert.Equal(t, 0, conv.calls)
	assert.Empty(t, h.ai.prompts)
}

func TestController_RejectsBeforeAnyStage(t *testing.T) {
	h := newHarness(t)
	orch, err := NewOrchestrator(h.deps)
	require.NoError(t, err)

	_, err = NewController(orch, Session{}).Submit(context.Background(), acmeSubmission())
	assert.True(t, types.IsKind(err, types.KindUnauthenticated))

	ctrl := NewController(orch, Session{Subject: "u"}, WithMaxUploadBytes(16))
	_, err = ctrl.Submit(context.Background(), acmeSubmission())
	assert.True(t, types.IsKind(err, types.KindInvalidSubmission))

	notPDF := acmeSubmission()
	notPDF.Document = []byte("plain text resume")
	_, err = h.controller(t).Submit(context.Background(), notPDF)
	assert.True(t, types.IsKind(err, types.KindInvalidSubmission))

	_, err = h.controller(t).Submit(context.Background(), nil)
	assert.True(t, types.IsKind(err, types.KindInvalidSubmission))

	assert.Zero(t, h.storage.calls)
}

func TestController_RunSurvivesCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.controller(t).Submit(ctx, acmeSubmission())
	require.NoError(t, err)
	cancel()

	id, err := run.Wait()
	require.NoError(t, err)
	_, err = h.store.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestController_AbandonedStreamDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	run, err := h.controller(t).Submit(context.Background(), acmeSubmission())
	require.NoError(t, err)

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on an unread update stream")
	}
	assert.Equal(t, StageComplete, run.Status().Stage)
}

func TestController_ConcurrentRuns(t *testing.T) {
	h := newHarness(t)
	tracker := NewTracker()
	ctrl := h.controller(t, WithTracker(tracker))

	const n = 20
	runs := make([]*Run, n)
	for i := range runs {
		sub := acmeSubmission()
		sub.CompanyName = fmt.Sprintf("company-%d", i)
		run, err := ctrl.Submit(context.Background(), sub)
		require.NoError(t, err)
		runs[i] = run
	}

	seen := make(map[string]bool)
	for i, run := range runs {
		id, err := run.Wait()
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		rec, err := h.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("company-%d", i), rec.CompanyName)

		status, ok := tracker.Get(id)
		require.True(t, ok)
		assert.Equal(t, StageComplete, status.Stage)
	}
	assert.Equal(t, n, tracker.Len())
	assert.Len(t, h.storage.paths, 2*n)

	assert.Equal(t, n, tracker.evictFinished(time.Now().Add(DefaultTrackerTTL+time.Second)))
	assert.Zero(t, tracker.Len())
}

func TestTracker_EvictsFinishedRunsAfterTTL(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(WithTrackerTTL(10 * time.Minute))
	tracker.now = func() time.Time { return start }

	tracker.set("done", statusAt(StageComplete, start))
	tracker.set("failed", failedStatus(types.NewError(types.KindUploadFailed, "disk full", nil), start))
	tracker.set("busy", statusAt(StageInferring, start))

	assert.Zero(t, tracker.evictFinished(start.Add(10*time.Minute)))
	assert.Equal(t, 3, tracker.Len())

	assert.Equal(t, 2, tracker.evictFinished(start.Add(11*time.Minute)))
	_, ok := tracker.Get("done")
	assert.False(t, ok)
	_, ok = tracker.Get("failed")
	assert.False(t, ok)

	status, ok := tracker.Get("busy")
	require.True(t, ok, "runs in progress are never evicted")
	assert.Equal(t, StageInferring, status.Stage)
}

func TestTracker_CleanupLoop(t *testing.T) {
	tracker := NewTracker(WithTrackerTTL(time.Millisecond))
	finished := time.Now().Add(-time.Hour)
	tracker.now = func() time.Time { return finished }
	tracker.set("r", statusAt(StageComplete, finished))
	tracker.now = time.Now

	tracker.StartCleanup(5 * time.Millisecond)
	t.Cleanup(tracker.Stop)

	assert.Eventually(t, func() bool { return tracker.Len() == 0 }, time.Second, 5*time.Millisecond)
	tracker.Stop()
}

func TestRun_PublishIsMonotonic(t *testing.T) {
	tracker := NewTracker()
	run := newRun("r", tracker)

	idle, ok := tracker.Get("r")
	require.True(t, ok)
	assert.Equal(t, StageIdle, idle.Stage)

	now := time.Now()
	run.publish(statusAt(StageConverting, now))
	run.publish(statusAt(StageUploading, now))
	run.publish(statusAt(StageConverting, now))
	run.finish("r", nil)
	run.publish(failedStatus(types.NewError(types.KindUploadFailed, "late", nil), now))

	var got []Stage
	for s := range run.Updates() {
		got = append(got, s.Stage)
	}
	assert.Equal(t, []Stage{StageConverting, StageComplete}, got)

	id, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, "r", id)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Deps{})
	assert.Error(t, err)
}

func TestPreviewName(t *testing.T) {
	assert.Equal(t, "cv.png", previewName("cv.pdf"))
	assert.Equal(t, "my.resume.png", previewName("my.resume.pdf"))
	assert.Equal(t, "resume.png", previewName(".pdf"))
}
