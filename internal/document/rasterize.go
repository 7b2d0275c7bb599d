package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ErrEmptyImage is returned when a converter exits cleanly but writes no image
var ErrEmptyImage = errors.New("conversion produced an empty image")

// Rasterizer renders the first page of a PDF as an image
type Rasterizer interface {
	Render(ctx context.Context, pdfData []byte) ([]byte, error)
}

// Converter turns the first page of the PDF at in into a PNG at out
type Converter interface {
	Name() string
	Convert(ctx context.Context, in, out string, dpi int) error
}

// Poppler renders with pdftoppm, falling back to ghostscript
type Poppler struct {
	DPI        int
	Converters []Converter
	Logger     *slog.Logger
}

// NewPoppler returns a Rasterizer that tries pdftoppm first, then gs
func NewPoppler(logger *slog.Logger) *Poppler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poppler{
		DPI:        150,
		Converters: []Converter{PdftoppmConverter{}, GhostscriptConverter{}},
		Logger:     logger,
	}
}

// Render returns the first page as PNG bytes. Documents without pages are rejected
// before any converter runs.
func (p *Poppler) Render(ctx context.Context, pdfData []byte) ([]byte, error) {
	pages, err := CountPages(pdfData)
	if err != nil {
		return nil, err
	}
	if pages == 0 {
		return nil, ErrNoPages
	}

	dir, err := os.MkdirTemp("", "rasterize-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	var errs []error
	for _, c := range p.Converters {
		out := filepath.Join(dir, c.Name()+".png")
		if err := c.Convert(ctx, in, out, p.DPI); err != nil {
			p.Logger.Debug("converter failed", "converter", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}

		img, err := os.ReadFile(out)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: failed to read output: %w", c.Name(), err))
			continue
		}
		if len(img) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), ErrEmptyImage))
			continue
		}
		return img, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no converters configured")
	}
	return nil, fmt.Errorf("all converters failed: %w", errors.Join(errs...))
}

// PdftoppmConverter uses pdftoppm from poppler-utils
type PdftoppmConverter struct{}

// Name implements Converter
func (PdftoppmConverter) Name() string { return "pdftoppm" }

// Convert implements Converter
func (PdftoppmConverter) Convert(ctx context.Context, in, out string, dpi int) error {
	// pdftoppm appends ".png" to the output root when -singlefile is set
	root := out[:len(out)-len(filepath.Ext(out))]
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-singlefile", "-f", "1", "-l", "1",
		"-r", strconv.Itoa(dpi), in, root)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm command failed: %w: %s", err, output)
	}
	return nil
}

// GhostscriptConverter uses gs
type GhostscriptConverter struct{}

// Name implements Converter
func (GhostscriptConverter) Name() string { return "gs" }

// Convert implements Converter
func (GhostscriptConverter) Convert(ctx context.Context, in, out string, dpi int) error {
	cmd := exec.CommandContext(ctx, "gs",
		"-q", "-dSAFER", "-dBATCH", "-dNOPAUSE",
		"-sDEVICE=png16m", "-r"+strconv.Itoa(dpi),
		"-dFirstPage=1", "-dLastPage=1",
		"-sOutputFile="+out, in)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("gs command failed: %w: %s", err, output)
	}
	return nil
}
