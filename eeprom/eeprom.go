// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package eeprom emulates the small EEPROM drivers persist their calibration
// to.
//
// Drivers only depend on io.ReaderAt and io.WriterAt. Mem keeps the content
// in memory and File in a file on the host; both have a fixed size and start
// erased, with every byte set to 0xff.
package eeprom

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Erased is the value of a byte that was never written.
const Erased = 0xff

// ErrOutOfRange is returned by WriteAt for a write past the end of the
// memory. Nothing is written.
var ErrOutOfRange = errors.New("eeprom: write out of range")

// Mem is a fixed size in-memory EEPROM.
type Mem struct {
	mu   sync.Mutex
	data []byte
}

// New returns an erased Mem of size bytes.
func New(size int) *Mem {
	m := &Mem{data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

func (m *Mem) String() string {
	return fmt.Sprintf("eeprom.Mem{%d}", len(m.data))
}

// Size returns the capacity in bytes.
func (m *Mem) Size() int64 {
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt.
func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("eeprom: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	return copy(m.data[off:], p), nil
}

// Erase sets every byte back to Erased.
func (m *Mem) Erase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data {
		m.data[i] = Erased
	}
}

// Bytes returns a copy of the content.
func (m *Mem) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// File is a fixed size EEPROM backed by a file.
type File struct {
	f    *os.File
	size int64
}

// Open opens or creates the file at path. A new or shorter file is extended
// to size with erased bytes.
func Open(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	if cur := fi.Size(); cur < size {
		pad := make([]byte, size-cur)
		for i := range pad {
			pad[i] = Erased
		}
		if _, err := f.WriteAt(pad, cur); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("eeprom: %w", err)
		}
	}
	return &File{f: f, size: size}, nil
}

func (f *File) String() string {
	return fmt.Sprintf("eeprom.File{%s, %d}", f.f.Name(), f.size)
}

// Size returns the capacity in bytes.
func (f *File) Size() int64 {
	return f.size
}

// ReadAt implements io.ReaderAt. Reads stop at Size even if the file is
// larger.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	if rem := f.size - off; int64(len(p)) > rem {
		n, err := f.f.ReadAt(p[:rem], off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return f.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > f.size {
		return 0, ErrOutOfRange
	}
	return f.f.WriteAt(p, off)
}

// Close closes the backing file.
func (f *File) Close() error {
	return f.f.Close()
}

var (
	_ io.ReaderAt = &Mem{}
	_ io.WriterAt = &Mem{}
	_ io.ReaderAt = &File{}
	_ io.WriterAt = &File{}
	_ io.Closer   = &File{}
)
