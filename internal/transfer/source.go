/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transfer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/friendsincode/objgate/internal/failure"
	"github.com/friendsincode/objgate/internal/objectstore"
)

// FileSource streams a local file. It is seekable so SDKs can rewind it for
// signing or retries without buffering it in memory.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path for upload.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.LocalIO("open source", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, failure.LocalIO("stat source", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, failure.LocalIO("open source", &os.PathError{Op: "open", Path: path, Err: errIsDir})
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

var errIsDir = errors.New("is a directory")

func (s *FileSource) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *FileSource) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

// Size is the file length at open time.
func (s *FileSource) Size() int64 { return s.size }

// Close releases the file handle.
func (s *FileSource) Close() error { return s.f.Close() }

// BufferSource is an in-memory body. Import forwards fetched images with it.
type BufferSource struct {
	*bytes.Reader
}

// NewBufferSource wraps data without copying it.
func NewBufferSource(data []byte) BufferSource {
	return BufferSource{Reader: bytes.NewReader(data)}
}

// meter counts the bytes a sink pulls from a source and remembers the first
// read failure so it can be told apart from a remote failure.
type meter struct {
	src  objectstore.Source
	n   atomic.Int64
	mu  sync.Mutex
	err error
}

func (m *meter) Read(p []byte) (int, error) {
	n, err := m.src.Read(p)
	m.n.Add(int64(n))
	if err != nil && err != io.EOF {
		m.mu.Lock()
		if m.err == nil {
			m.err = err
		}
		m.mu.Unlock()
	}
	return n, err
}

func (m *meter) Size() int64 { return m.src.Size() }

func (m *meter) count() int64 { return m.n.Load() }

func (m *meter) readErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// seekMeter is a meter over a seekable source. A rewind by the sink resets the
// count to the new offset, so a retried body is not counted twice.
type seekMeter struct {
	*meter
	seeker io.Seeker
}

func (m *seekMeter) Seek(offset int64, whence int) (int64, error) {
	pos, err := m.seeker.Seek(offset, whence)
	if err == nil {
		m.n.Store(pos)
	}
	return pos, err
}

type metered interface {
	objectstore.Source
	count() int64
	readErr() error
}

func newMeter(src objectstore.Source) metered {
	m := &meter{src: src}
	if s, ok := src.(io.Seeker); ok {
		return &seekMeter{meter: m, seeker: s}
	}
	return m
}
