package netutil

import (
	"errors"
	"fmt"
	"io"
)

// LimitedReader wraps an io.Reader with a maximum size limit.
// It returns an error when the limit is exceeded, unlike io.LimitReader
// which silently truncates.
type LimitedReader struct {
	R     io.Reader // underlying reader
	N     int64     // max bytes remaining
	Limit int64     // original limit (for error messages)
	read  int64     // bytes read so far
	eof   bool      // underlying reader ended exactly at the limit
}

// NewLimitedReader creates a LimitedReader that will read at most limit bytes.
func NewLimitedReader(r io.Reader, limit int64) *LimitedReader {
	return &LimitedReader{
		R:     r,
		N:     limit,
		Limit: limit,
	}
}

// Read implements io.Reader with size limit enforcement.
func (l *LimitedReader) Read(p []byte) (n int, err error) {
	if l.N <= 0 {
		if l.eof {
			return 0, io.EOF
		}
		return 0, &SizeLimitExceededError{Limit: l.Limit, Read: l.read}
	}

	if int64(len(p)) > l.N {
		p = p[0:l.N]
	}

	n, err = l.R.Read(p)
	l.N -= int64(n)
	l.read += int64(n)

	// At the limit, probe one more byte to distinguish an exact-size
	// payload from an oversized one.
	if l.N == 0 && err == nil {
		var buf [1]byte
		extra, extraErr := l.R.Read(buf[:])
		if extra > 0 {
			return n, &SizeLimitExceededError{Limit: l.Limit, Read: l.read + 1}
		}
		if extraErr == io.EOF {
			l.eof = true
		} else if extraErr != nil {
			return n, extraErr
		}
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (l *LimitedReader) BytesRead() int64 {
	return l.read
}

// SizeLimitExceededError is returned when the size limit is exceeded.
type SizeLimitExceededError struct {
	Limit int64
	Read  int64
}

func (e *SizeLimitExceededError) Error() string {
	return fmt.Sprintf("size limit exceeded: read %d bytes, limit is %d bytes", e.Read, e.Limit)
}

// IsSizeLimitExceededError returns true if the error is a SizeLimitExceededError.
func IsSizeLimitExceededError(err error) bool {
	var sizeLimitErr *SizeLimitExceededError
	return errors.As(err, &sizeLimitErr)
}
