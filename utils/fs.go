package utils

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"

	"czdsfetch/internal"
)

// PartSuffix marks a download that has not been committed yet
const PartSuffix = ".part"

// removePartial deletes a leftover .part file, ignoring a missing one
func removePartial(partPath string) error {
	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ZoneStore writes zone files into a directory. Each file is streamed to a
// .part sibling and renamed into place only after the body has been fully
// written, so a reader never observes a truncated zone file.
type ZoneStore struct {
	dir        string
	limiter    *BandwidthLimiter
	verifyGzip bool
}

// ZoneStoreOption configures a ZoneStore
type ZoneStoreOption func(*ZoneStore)

// WithBandwidthLimit paces writes with the given limiter
func WithBandwidthLimit(limiter *BandwidthLimiter) ZoneStoreOption {
	return func(s *ZoneStore) {
		s.limiter = limiter
	}
}

// WithGzipVerification decompresses every committed file once to check it is a valid gzip stream
func WithGzipVerification(enabled bool) ZoneStoreOption {
	return func(s *ZoneStore) {
		s.verifyGzip = enabled
	}
}

// NewZoneStore creates a store rooted at dir
func NewZoneStore(dir string, opts ...ZoneStoreOption) *ZoneStore {
	s := &ZoneStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ internal.Storage = (*ZoneStore)(nil)

// Dir returns the directory files are written to
func (s *ZoneStore) Dir() string {
	return s.dir
}

// Store streams body into dir/name, replacing any existing file of that name.
// On failure the partial file is removed and any earlier file is left untouched.
func (s *ZoneStore) Store(ctx context.Context, name string, body io.Reader) (*internal.StoredFile, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid zone file name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.dir, err)
	}

	finalPath := filepath.Join(s.dir, name)
	partPath := finalPath + PartSuffix

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create partial file: %w", err)
	}

	closed, committed := false, false
	defer func() {
		if !closed {
			file.Close()
		}
		if !committed {
			if rmErr := removePartial(partPath); rmErr != nil {
				internal.LogWarn("Failed to remove %s: %v", partPath, rmErr)
			}
		}
	}()

	var reader io.Reader = &contextReader{ctx: ctx, r: body}
	if s.limiter != nil {
		reader = s.limiter.Reader(ctx, reader)
	}

	hasher := blake3.New()
	buffered := bufio.NewWriterSize(file, 256*1024)
	size, err := io.Copy(io.MultiWriter(buffered, hasher), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := buffered.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync %s: %w", name, err)
	}
	closed = true
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", name, err)
	}

	if s.verifyGzip {
		if err := VerifyGzip(partPath); err != nil {
			return nil, fmt.Errorf("%s is not a valid gzip stream: %w", name, err)
		}
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", name, err)
	}
	committed = true

	return &internal.StoredFile{
		Name:   name,
		Path:   finalPath,
		Size:   size,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// SweepPartials removes .part files left in the directory by a process that
// was killed mid-download. A missing directory has nothing to sweep.
func (s *ZoneStore) SweepPartials() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+PartSuffix))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, partPath := range matches {
		if err := removePartial(partPath); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", partPath, err)
		}
		removed++
	}
	return removed, nil
}

// VerifyGzip reads the whole file through a gzip decoder
func VerifyGzip(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return err
	}
	defer gz.Close()

	_, err = io.Copy(io.Discard, gz)
	return err
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
