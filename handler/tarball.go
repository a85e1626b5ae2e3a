package handler

import (
	"context"
	"io"
	"os"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

// TarballHandler creates a fresh filesystem on the target slot and
// extracts a tar archive onto it (spec.md §4.3's "tarball" handler),
// useful for slots that should end up with exactly the files the bundle
// lists rather than a byte-identical filesystem image.
type TarballHandler struct {
	Runner subprocess.StreamRunner
	MkfsType string // defaults to "ext4"
}

func (h *TarballHandler) Name() string { return "tarball" }

func (h *TarballHandler) runner() subprocess.StreamRunner {
	if h.Runner != nil {
		return h.Runner
	}
	return subprocess.Exec.(subprocess.StreamRunner)
}

func (h *TarballHandler) mkfsType() string {
	if h.MkfsType != "" {
		return h.MkfsType
	}
	return "ext4"
}

func (h *TarballHandler) Write(ctx context.Context, slot *config.Slot, src io.ReaderAt, size int64, report func(int)) error {
	mkfsCmd := "mkfs." + h.mkfsType()
	if _, err := subprocess.Exec.Run(ctx, nil, mkfsCmd, "-F", slot.Device); err != nil {
		return errs.New(errs.InstallHandler, "%s %s: %v", mkfsCmd, slot.Device, err)
	}

	mountPoint, err := os.MkdirTemp("", "slotupdate-tar-")
	if err != nil {
		return errs.New(errs.InstallHandler, "create mount point: %v", err)
	}
	defer os.RemoveAll(mountPoint)

	if _, err := subprocess.Exec.Run(ctx, nil, "mount", slot.Device, mountPoint); err != nil {
		return errs.New(errs.InstallHandler, "mount %s: %v", slot.Device, err)
	}
	defer subprocess.Exec.Run(ctx, nil, "umount", mountPoint)

	reader := io.NewSectionReader(src, 0, size)
	if report != nil {
		reader2 := &progressReaderAt{src: reader, size: size, report: report}
		if _, err := h.runner().RunStreaming(ctx, reader2, "tar", "-x", "-C", mountPoint); err != nil {
			return errs.New(errs.InstallHandler, "tar extract: %v", err)
		}
		return nil
	}

	if _, err := h.runner().RunStreaming(ctx, reader, "tar", "-x", "-C", mountPoint); err != nil {
		return errs.New(errs.InstallHandler, "tar extract: %v", err)
	}
	return nil
}

// progressReaderAt wraps a streaming read with percent-complete
// reporting, since tar extraction is handed to an external process that
// has no notion of our Handler.Write progress callback.
type progressReaderAt struct {
	src     io.Reader
	size    int64
	read    int64
	report  func(int)
}

func (p *progressReaderAt) Read(b []byte) (int, error) {
	n, err := p.src.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.size > 0 {
			p.report(int(p.read * 100 / p.size))
		}
	}
	return n, err
}
