// Package docengine implements the external document-service collaborators:
// raster rendering through a pdftoppm subprocess, text extraction through a
// PDF parser, and raster snippet cropping.
package docengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/margolab/margo/internal/render"
)

// baseDPI is the render resolution at scale 1.0.
const baseDPI = 96

// Rasterizer renders document pages to PNG through pdftoppm. Renders run as
// subprocesses under exec.CommandContext, so cancelling the context kills an
// in-flight render cooperatively.
type Rasterizer struct {
	mu      sync.Mutex
	bin     string
	workDir string
	pdfPath string
	logger  *zap.Logger
}

// NewRasterizer creates a rasterizer using the given pdftoppm binary name or
// path (empty means "pdftoppm" on PATH).
func NewRasterizer(bin string, logger *zap.Logger) (*Rasterizer, error) {
	if bin == "" {
		bin = "pdftoppm"
	}
	dir, err := os.MkdirTemp("", "margo-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render workdir: %w", err)
	}
	return &Rasterizer{bin: bin, workDir: dir, logger: logger}, nil
}

// Probe checks that the render binary is available. Used by the engine
// lifecycle before the first document loads.
func (r *Rasterizer) Probe() error {
	if _, err := exec.LookPath(r.bin); err != nil {
		return fmt.Errorf("render engine unavailable: %w", err)
	}
	return nil
}

// SetDocument replaces the active document. Renders requested before the
// next SetDocument read from this copy.
func (r *Rasterizer) SetDocument(pdfBytes []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := filepath.Join(r.workDir, "current.pdf")
	if err := os.WriteFile(path, pdfBytes, 0600); err != nil {
		return fmt.Errorf("stage document: %w", err)
	}
	r.pdfPath = path
	return nil
}

// RenderPage implements render.Rasterizer. Cancellation returns ctx.Err();
// any other failure is a real render error.
func (r *Rasterizer) RenderPage(ctx context.Context, page int, scale float64) (*render.Raster, error) {
	r.mu.Lock()
	pdfPath := r.pdfPath
	r.mu.Unlock()
	if pdfPath == "" {
		return nil, errors.New("no document loaded")
	}
	if scale <= 0 {
		scale = 1.0
	}
	dpi := int(baseDPI * scale)

	outDir, err := os.MkdirTemp(r.workDir, "page-*")
	if err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	prefix := filepath.Join(outDir, "out")
	cmd := exec.CommandContext(ctx, r.bin,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		pdfPath, prefix,
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w", page, err)
	}

	imgPath, err := findRenderedImage(prefix, page)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	r.logger.Debug("page rasterized",
		zap.Int("page", page), zap.Float64("scale", scale),
		zap.Int("width", cfg.Width), zap.Int("height", cfg.Height))
	return &render.Raster{Image: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// findRenderedImage locates pdftoppm's output; the tool zero-pads the page
// number to the document's digit count, so several names are possible.
func findRenderedImage(prefix string, page int) (string, error) {
	for width := 1; width <= 6; width++ {
		candidate := fmt.Sprintf("%s-%0*d.png", prefix, width, page)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("rendered image not found for page %d", page)
}

// Close removes the staging directory.
func (r *Rasterizer) Close() error {
	return os.RemoveAll(r.workDir)
}
