// Package archive extracts downloaded season packs into the shows library.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"medialoader/internal/consts"
	"medialoader/pkg/shellquote"
)

// Handler recognises and extracts one archive format family.
type Handler interface {
	Name() string
	Extensions() []string
	// RequiredTool is the external binary the handler shells out to, empty for built-in handlers.
	RequiredTool() string
	CanHandle(path string) bool
	// IsAvailable is called once at startup.
	IsAvailable(ctx context.Context) bool
	Extract(ctx context.Context, archivePath, targetDir string) error
}

// LookPathFunc resolves a binary name to a path.
type LookPathFunc func(file string) (string, error)

// RunFunc executes bin with args and waits for it to exit.
type RunFunc func(ctx context.Context, bin string, args []string) error

// ToolOption configures a ToolHandler.
type ToolOption func(*ToolHandler)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn LookPathFunc) ToolOption {
	return func(h *ToolHandler) { h.lookPath = fn }
}

// WithRunner replaces the process runner.
func WithRunner(fn RunFunc) ToolOption {
	return func(h *ToolHandler) { h.run = fn }
}

// ToolHandler extracts archives by spawning an external tool with an explicit argv.
type ToolHandler struct {
	log        *slog.Logger
	name       string
	tool       string
	extensions []string
	args       func(archivePath, targetDir string) []string

	lookPath LookPathFunc
	run      RunFunc

	// set by IsAvailable
	binPath string
}

var _ Handler = (*ToolHandler)(nil)

// NewZip returns the unzip backed handler: unzip -o <archive> -d <target>.
func NewZip(log *slog.Logger, opts ...ToolOption) *ToolHandler {
	return newToolHandler(log, consts.HandlerZip, "unzip", []string{".zip", ".cbz"},
		func(archivePath, targetDir string) []string {
			return []string{"-o", archivePath, "-d", targetDir}
		}, opts...)
}

// NewRar returns the unrar backed handler: unrar x -o+ <archive> <target>/.
func NewRar(log *slog.Logger, opts ...ToolOption) *ToolHandler {
	return newToolHandler(log, consts.HandlerRar, "unrar", []string{".rar", ".cbr"},
		func(archivePath, targetDir string) []string {
			return []string{"x", "-o+", archivePath, withTrailingSlash(targetDir)}
		}, opts...)
}

func newToolHandler(
	log *slog.Logger,
	name, tool string,
	extensions []string,
	args func(archivePath, targetDir string) []string,
	opts ...ToolOption,
) *ToolHandler {
	handler := &ToolHandler{
		log:        log.With(slog.String("handler", name)),
		name:       name,
		tool:       tool,
		extensions: extensions,
		args:       args,
		lookPath:   exec.LookPath,
		run:        runCommand,
	}

	for _, opt := range opts {
		opt(handler)
	}

	return handler
}

func (h *ToolHandler) Name() string         { return h.name }
func (h *ToolHandler) Extensions() []string { return h.extensions }
func (h *ToolHandler) RequiredTool() string { return h.tool }

func (h *ToolHandler) CanHandle(path string) bool {
	return hasExtension(path, h.extensions)
}

// Args returns the argv passed to the tool, without the binary.
func (h *ToolHandler) Args(archivePath, targetDir string) []string {
	return h.args(archivePath, targetDir)
}

func (h *ToolHandler) IsAvailable(ctx context.Context) bool {
	path, err := h.lookPath(h.tool)
	if err != nil {
		h.log.WarnContext(ctx, "tool is not installed, extraction disabled",
			slog.String("tool", h.tool),
			slog.Any("extensions", h.extensions))

		return false
	}

	h.binPath = path

	h.log.InfoContext(ctx, "tool is available, extraction enabled",
		slog.String("tool", h.tool),
		slog.String("path", path),
		slog.Any("extensions", h.extensions))

	return true
}

func (h *ToolHandler) Extract(ctx context.Context, archivePath, targetDir string) error {
	bin := h.binPath
	if bin == "" {
		bin = h.tool
	}

	args := h.Args(archivePath, targetDir)

	h.log.DebugContext(ctx, "running extraction", slog.String("cmd", shellquote.Join(bin, args)))

	err := h.run(ctx, bin, args)
	if err != nil {
		return fmt.Errorf("%s: %w", h.tool, err)
	}

	return nil
}

func runCommand(ctx context.Context, bin string, args []string) error {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("run: %w", err)
		}

		return fmt.Errorf("run: %w: %s", err, msg)
	}

	return nil
}

func hasExtension(path string, extensions []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

func withTrailingSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}

	return dir + "/"
}
