package handler

import (
	"context"
	"io"
	"os"

	"github.com/mvo5/slotupdate/config"
	"github.com/mvo5/slotupdate/errs"
)

// RawHandler writes an image byte-for-byte onto a block device or region
// (spec.md §4.3's "raw" handler), the simplest of the three: no
// filesystem is created or interpreted, so it also covers boot-loader
// partitions and MBR/GPT-switch slots.
type RawHandler struct{}

func (h *RawHandler) Name() string { return "raw" }

func (h *RawHandler) Write(ctx context.Context, slot *config.Slot, src io.ReaderAt, size int64, report func(int)) error {
	f, err := os.OpenFile(slot.Device, os.O_WRONLY|os.O_SYNC, 0)
	if err != nil {
		return errs.New(errs.InstallHandler, "open %s: %v", slot.Device, err)
	}
	defer f.Close()

	if err := copyWithProgress(ctx, f, io.NewSectionReader(src, 0, size), size, report); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return errs.New(errs.InstallHandler, "sync %s: %v", slot.Device, err)
	}
	return nil
}

// copyWithProgress streams the full size bytes, checking ctx between
// chunks (spec.md §5's cancellation-poll-between-steps requirement) and
// calling report after every chunk.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, size int64, report func(int)) error {
	const chunk = 1 << 20 // 1 MiB
	buf := make([]byte, chunk)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return errs.New(errs.InstallHandler, "write cancelled: %v", ctx.Err())
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return errs.New(errs.InstallHandler, "write: %v", werr)
			}
			written += int64(n)
			if report != nil && size > 0 {
				report(int(written * 100 / size))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errs.New(errs.InstallHandler, "read: %v", rerr)
		}
	}
	return nil
}
