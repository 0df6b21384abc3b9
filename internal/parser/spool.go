package parser

import (
	"fmt"
	"io"
	"os"
)

// spool copies r to a temporary file for libraries that need random access.
// The caller closes the file and calls cleanup.
func spool(r io.Reader, pattern string) (f *os.File, size int64, cleanup func(), err error) {
	f, err = os.CreateTemp("", pattern)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup = func() { os.Remove(f.Name()) }

	if size, err = io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return nil, 0, nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		cleanup()
		return nil, 0, nil, fmt.Errorf("seek temp file: %w", err)
	}
	return f, size, cleanup, nil
}
