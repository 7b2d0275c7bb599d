package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/resume-analyzer/internal/pipeline"
	"github.com/jonathan/resume-analyzer/internal/types"
)

var (
	analyzeCompany         string
	analyzeTitle           string
	analyzeDescription     string
	analyzeDescriptionFile string
	analyzeConcurrency     int
	analyzeVerbose         bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <resume.pdf> [more.pdf...]",
	Short: "Analyze one or more resumes against a job",
	Long: `Runs the analysis pipeline for every file against the same job and prints the
resulting analysis ids as JSON. Files are analyzed concurrently; a failure in one
run does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCompany, "company", "", "Company name")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "Job title")
	analyzeCmd.Flags().StringVar(&analyzeDescription, "description", "", "Job description text")
	analyzeCmd.Flags().StringVar(&analyzeDescriptionFile, "description-file", "", "Read the job description from a file")
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 4, "Maximum concurrent runs")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "Print every stage transition")
	analyzeCmd.MarkFlagsMutuallyExclusive("description", "description-file")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeResult is one line of the command output
type analyzeResult struct {
	File  string          `json:"file"`
	ID    string          `json:"id,omitempty"`
	Error string          `json:"error,omitempty"`
	Kind  types.ErrorKind `json:"kind,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	description := analyzeDescription
	if analyzeDescriptionFile != "" {
		data, err := os.ReadFile(analyzeDescriptionFile)
		if err != nil {
			return fmt.Errorf("failed to read description file: %w", err)
		}
		description = string(data)
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	orch, _, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	ctrl := pipeline.NewController(orch, pipeline.Session{Subject: cliSubject()},
		pipeline.WithMaxUploadBytes(a.cfg.MaxUploadBytes))

	job := types.AnalysisSubmission{
		CompanyName:    analyzeCompany,
		JobTitle:       analyzeTitle,
		JobDescription: description,
	}
	results := analyzeFiles(ctx, ctrl, job, args, analyzeConcurrency, progressWriter(cmd.ErrOrStderr()))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(results))
	}
	return nil
}

// progressWriter prints stage transitions when --verbose is set
func progressWriter(w io.Writer) func(file string, s pipeline.StageStatus) {
	if !analyzeVerbose {
		return nil
	}
	var mu sync.Mutex
	return func(file string, s pipeline.StageStatus) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s: %s\n", filepath.Base(file), s.Message)
	}
}

// analyzeFiles submits every file with job's metadata, at most limit at a time.
// Results keep the order of files.
func analyzeFiles(ctx context.Context, ctrl *pipeline.Controller, job types.AnalysisSubmission, files []string, limit int, progress func(string, pipeline.StageStatus)) []analyzeResult {
	results := make([]analyzeResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, file := range files {
		g.Go(func() error {
			results[i] = analyzeFile(ctx, ctrl, job, file, progress)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func analyzeFile(ctx context.Context, ctrl *pipeline.Controller, job types.AnalysisSubmission, file string, progress func(string, pipeline.StageStatus)) analyzeResult {
	result := analyzeResult{File: file}
	fail := func(err error) analyzeResult {
		result.Error = err.Error()
		result.Kind = types.KindOf(err)
		return result
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fail(types.NewError(types.KindInvalidSubmission, "failed to read file", err))
	}
	sub := job
	sub.Filename = filepath.Base(file)
	sub.Document = data

	run, err := ctrl.Submit(ctx, &sub)
	if err != nil {
		return fail(err)
	}
	for status := range run.Updates() {
		if progress != nil {
			progress(file, status)
		}
	}
	id, err := run.Wait()
	if err != nil {
		return fail(err)
	}
	result.ID = id
	return result
}

// cliSubject names the local operator as the session subject
func cliSubject() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
