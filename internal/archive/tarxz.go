package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"

	"medialoader/internal/consts"
	"medialoader/internal/errs"
)

// TarXZ extracts .tar.xz archives in process. It is always available.
type TarXZ struct {
	log *slog.Logger
	fs  afero.Fs
}

var _ Handler = (*TarXZ)(nil)

func NewTarXZ(log *slog.Logger, fs afero.Fs) *TarXZ {
	return &TarXZ{
		log: log.With(slog.String("handler", consts.HandlerTarXZ)),
		fs:  fs,
	}
}

func (h *TarXZ) Name() string         { return consts.HandlerTarXZ }
func (h *TarXZ) Extensions() []string { return []string{".tar.xz", ".txz"} }
func (h *TarXZ) RequiredTool() string { return "" }

func (h *TarXZ) CanHandle(path string) bool {
	return hasExtension(path, h.Extensions())
}

func (h *TarXZ) IsAvailable(context.Context) bool { return true }

func (h *TarXZ) Extract(ctx context.Context, archivePath, targetDir string) error {
	file, err := h.fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("create xz reader: %w", err)
	}

	tarReader := tar.NewReader(xzReader)
	extracted := 0

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extract tar.xz: %w", err)
		}

		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		destPath, err := safeJoin(targetDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := h.fs.MkdirAll(destPath, consts.DefaultDirPerm); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeReg:
			if err := h.writeFile(destPath, header, tarReader); err != nil {
				return err
			}

			extracted++
		default:
			h.log.DebugContext(ctx, "skipping tar entry",
				slog.String("name", header.Name),
				slog.Int("type", int(header.Typeflag)))
		}
	}

	h.log.DebugContext(ctx, "tar.xz extracted", slog.Int("files", extracted))

	return nil
}

func (h *TarXZ) writeFile(destPath string, header *tar.Header, r io.Reader) error {
	if err := h.fs.MkdirAll(filepath.Dir(destPath), consts.DefaultDirPerm); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	perm := header.FileInfo().Mode().Perm()
	if perm == 0 {
		perm = consts.DefaultFilePerm
	}

	outFile, err := h.fs.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}

	_, err = io.Copy(outFile, r)
	closeErr := outFile.Close()

	if err != nil {
		return fmt.Errorf("extract file: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("close dest file: %w", closeErr)
	}

	return nil
}

// safeJoin joins name under dir and rejects entries escaping it.
func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", errs.ErrUnsafeArchivePath, name)
	}

	dest := filepath.Join(dir, name)

	rel, err := filepath.Rel(dir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errs.ErrUnsafeArchivePath, name)
	}

	return dest, nil
}
