// Package bundle implements the "Bundle Reader" component of spec.md
// §4.1: locating the trailing signature (and, for verity/crypt bundles,
// the dm-verity hash tree), verifying it before any payload byte is
// trusted, and exposing a verified read-only mounted view of the
// payload.
//
// The on-disk trailer layout is exactly spec.md's:
//
//	squashfs payload | (verity/crypt only) hash tree | signature blob | u64be sig_size
package bundle

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/logger"
	"github.com/mvo5/slotupdate/manifest"
)

// maxSignatureSize is spec.md §9's authoritative (not the superseded
// 64 MiB) cap: MAX_BUNDLE_SIGNATURE_SIZE = 0x10000.
const maxSignatureSize = 0x10000

// blockSize is the dm-verity/squashfs block granularity the payload and
// hash tree sizes are expected to be a multiple of.
const blockSize = 4096

// Source abstracts a local file or a streamed (NBD-like) remote bundle
// behind the same byte-range read API, per spec.md §9 ("a single backend
// trait unifies them so the verification pipeline is source-agnostic").
type Source interface {
	io.ReaderAt
	io.Closer
	// Size returns the total size of the underlying bundle in bytes.
	Size() (int64, error)
	// Local reports whether this source is a local regular file (and
	// therefore eligible for the exclusivity check and direct
	// loop-mounting); a streamed source is never local.
	Local() bool
	// Path returns the local path for a Local() source, or "" for a
	// remote one.
	Path() string
}

// fileSource is the local-file implementation of Source.
type fileSource struct {
	f    *os.File
	path string
}

// OpenLocal opens path as a local bundle source.
func OpenLocal(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.BundleIdentifier, "open bundle: %v", err)
	}
	return &fileSource{f: f, path: path}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Close() error                            { return s.f.Close() }
func (s *fileSource) Local() bool                              { return true }
func (s *fileSource) Path() string                             { return s.path }
func (s *fileSource) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Bundle is a parsed, progressively-verified bundle (spec.md §3's
// "Bundle" lifecycle: created by Open, populated by verification,
// mutated during Mount, destroyed with automatic unmount/unlink by
// Close).
type Bundle struct {
	Path string
	src  Source

	Size           int64 // payload size, excluding hash tree/signature/trailer
	HashTreeSize   int64
	SignatureBlob  []byte
	WasEncrypted   bool

	Manifest *manifest.Manifest

	SignatureVerified bool
	PayloadVerified   bool
	ExclusiveVerified bool

	SignerFingerprint string

	MountPoint string

	downloadedTemp bool // true if src.Path() should be unlinked on Close
	mount          *mountResources
}

// Open performs spec.md §4.1's "open & verify" steps 1–3: read the
// trailer, bound-check sig_size, and slice out the signature blob. It
// does not verify anything cryptographically yet — call VerifySignature
// next.
func Open(src Source) (*Bundle, error) {
	total, err := src.Size()
	if err != nil {
		return nil, errs.Wrap(errs.New(errs.BundleIdentifier, "%v", err), "bundle: open")
	}
	if total < 8 {
		return nil, errs.New(errs.BundleSignature, "bundle too small to contain a trailer")
	}

	var trailer [8]byte
	if _, err := src.ReadAt(trailer[:], total-8); err != nil {
		return nil, errs.New(errs.BundleSignature, "read trailer: %v", err)
	}
	sigSize := int64(binary.BigEndian.Uint64(trailer[:]))

	if sigSize == 0 {
		return nil, errs.New(errs.BundleSignature, "sig_size is zero")
	}
	if sigSize > maxSignatureSize {
		return nil, errs.New(errs.BundleSignature, "sig_size %d exceeds MAX_BUNDLE_SIGNATURE_SIZE (%d)", sigSize, maxSignatureSize)
	}
	if sigSize > total-8 {
		return nil, errs.New(errs.BundleSignature, "sig_size %d leaves no room for a payload", sigSize)
	}

	payloadAndTree := total - 8 - sigSize
	if payloadAndTree%blockSize != 0 {
		if src.Local() {
			// warn, not fail, for local bundles
			logger.Warnf("bundle payload size %d is not a multiple of %d", payloadAndTree, blockSize)
		} else {
			return nil, errs.New(errs.BundleSignature, "streamed bundle payload size %d is not a multiple of %d", payloadAndTree, blockSize)
		}
	}

	sigBlob := make([]byte, sigSize)
	if _, err := src.ReadAt(sigBlob, total-8-sigSize); err != nil {
		return nil, errs.New(errs.BundleSignature, "read signature blob: %v", err)
	}

	b := &Bundle{
		Path:          src.Path(),
		src:           src,
		Size:          payloadAndTree, // narrowed to just the payload once the manifest's hash-tree-size is known
		SignatureBlob: sigBlob,
	}
	return b, nil
}

// splitHashTree narrows b.Size down to just the payload once the
// manifest (read from the signed content for verity/crypt, or from the
// mounted payload for plain) reveals the verity hash-tree size.
func (b *Bundle) splitHashTree(hashTreeSize int64) error {
	if hashTreeSize < 0 || hashTreeSize > b.Size {
		return errs.New(errs.BundleVerity, "invalid hash tree size %d", hashTreeSize)
	}
	b.HashTreeSize = hashTreeSize
	b.Size -= hashTreeSize
	return nil
}

// PayloadReaderAt returns an io.ReaderAt over just the payload region
// (offset 0 is the first payload byte), for hashing or mounting.
func (b *Bundle) PayloadReaderAt() io.ReaderAt {
	return &offsetReaderAt{base: b.src, off: 0, size: b.Size}
}

// HashTreeReaderAt returns an io.ReaderAt over the verity hash tree
// region, if any.
func (b *Bundle) HashTreeReaderAt() io.ReaderAt {
	return &offsetReaderAt{base: b.src, off: b.Size, size: b.HashTreeSize}
}

type offsetReaderAt struct {
	base       io.ReaderAt
	off, size  int64
}

func (r *offsetReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > r.size {
		p = p[:r.size-off]
	}
	n, err := r.base.ReadAt(p, r.off+off)
	if err == nil && int64(n) < int64(len(p)) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Close unmounts (if mounted), releases the source, and removes any
// downloaded temporary file, per spec.md §3's Bundle lifecycle and §5's
// resource discipline.
func (b *Bundle) Close() error {
	var firstErr error
	if b.MountPoint != "" {
		if err := Unmount(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.src.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if b.downloadedTemp && b.Path != "" {
		if err := os.Remove(b.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// String is used by log/event messages.
func (b *Bundle) String() string {
	return fmt.Sprintf("bundle(%s, %d bytes payload)", b.Path, b.Size)
}
