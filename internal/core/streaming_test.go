package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeLimitedReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		limit   int64
		wantErr bool
	}{
		{name: "under limit", input: "hello,world", limit: 100},
		{name: "exactly at limit", input: "hello", limit: 5},
		{name: "one byte over", input: "hello!", limit: 5, wantErr: true},
		{name: "far over", input: strings.Repeat("x", 10_000), limit: 10, wantErr: true},
		{name: "empty", input: "", limit: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSizeLimitedReader(strings.NewReader(tt.input), tt.limit)
			got, err := io.ReadAll(r)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrFileTooLarge)
				assert.LessOrEqual(t, r.BytesRead(), tt.limit+1)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(got))
		})
	}
}

func TestSizeLimitedReader_SmallReads(t *testing.T) {
	// One byte at a time still trips the limit at the right place
	r := NewSizeLimitedReader(iotest.OneByteReader(strings.NewReader("abcdef")), 3)
	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, int64(4), r.BytesRead())
}

func TestReadUpload(t *testing.T) {
	data := []byte("fiscal_code;pod\nRSSMRA80A01H501Z;IT001E12345678\n")

	t.Run("reads whole body", func(t *testing.T) {
		got, err := ReadUpload(bytes.NewReader(data), 1024, int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("size hint over limit fails fast", func(t *testing.T) {
		_, err := ReadUpload(bytes.NewReader(data), 10, int64(len(data)))
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("body over limit without hint", func(t *testing.T) {
		_, err := ReadUpload(bytes.NewReader(data), 10, 0)
		assert.ErrorIs(t, err, ErrFileTooLarge)
		assert.Equal(t, "FILE001", MapError(err).Code)
	})

	t.Run("reader error propagates", func(t *testing.T) {
		boom := errors.New("disk on fire")
		_, err := ReadUpload(iotest.ErrReader(boom), 1024, 0)
		assert.ErrorIs(t, err, boom)
	})
}
