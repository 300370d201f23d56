package core

// streaming.go bounds how much of an upload is buffered.
//
// The pipeline needs the whole file (XLSX is a zip and the delimiter is
// sniffed from the text), so uploads are read into memory once, through a
// reader that fails as soon as the configured limit is crossed instead of
// after the whole body has been consumed.

import (
	"bytes"
	"fmt"
	"io"
)

// SizeLimitedReader wraps an io.Reader and fails with ErrFileTooLarge once
// more than Limit bytes have been read.
type SizeLimitedReader struct {
	reader io.Reader
	limit  int64
	read   int64
}

// NewSizeLimitedReader creates a reader that accepts at most limit bytes.
func NewSizeLimitedReader(r io.Reader, limit int64) *SizeLimitedReader {
	return &SizeLimitedReader{reader: r, limit: limit}
}

// Read implements io.Reader.
func (s *SizeLimitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// Allow one byte past the limit so an exactly-sized file still succeeds
	// and a larger one is detected without reading further.
	if remaining := s.limit + 1 - s.read; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.reader.Read(p)
	s.read += int64(n)
	if s.read > s.limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, s.limit)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (s *SizeLimitedReader) BytesRead() int64 {
	return s.read
}

// ReadUpload reads r completely, failing with ErrFileTooLarge when it holds
// more than limit bytes. sizeHint, if positive, presizes the buffer.
func ReadUpload(r io.Reader, limit, sizeHint int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if sizeHint > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, sizeHint, limit)
	}
	var buf bytes.Buffer
	if sizeHint > 0 {
		buf.Grow(int(sizeHint))
	}
	if _, err := buf.ReadFrom(NewSizeLimitedReader(r, limit)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
