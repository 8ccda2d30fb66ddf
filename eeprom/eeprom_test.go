// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package eeprom

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMem(t *testing.T) {
	m := New(8)
	if s := m.String(); s != "eeprom.Mem{8}" {
		t.Fatal(s)
	}
	if diff := cmp.Diff([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, m.Bytes()); diff != "" {
		t.Fatalf("not erased (-want +got):\n%s", diff)
	}
	if n, err := m.WriteAt([]byte{1, 2, 3}, 4); n != 3 || err != nil {
		t.Fatal(n, err)
	}
	buf := make([]byte, 4)
	if n, err := m.ReadAt(buf, 3); n != 4 || err != nil {
		t.Fatal(n, err)
	}
	if diff := cmp.Diff([]byte{0xff, 1, 2, 3}, buf); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	// Short read at the end.
	if n, err := m.ReadAt(buf, 6); n != 2 || err != io.EOF {
		t.Fatal(n, err)
	}
	if n, err := m.ReadAt(buf, 8); n != 0 || err != io.EOF {
		t.Fatal(n, err)
	}
	if _, err := m.ReadAt(buf, -1); err == nil {
		t.Fatal("negative offset")
	}
	m.Erase()
	if m.Bytes()[5] != Erased {
		t.Fatal("not erased")
	}
}

func TestMem_WriteAt_outOfRange(t *testing.T) {
	m := New(4)
	if n, err := m.WriteAt([]byte{1, 2, 3}, 2); n != 0 || !errors.Is(err, ErrOutOfRange) {
		t.Fatal(n, err)
	}
	if _, err := m.WriteAt([]byte{1}, -1); !errors.Is(err, ErrOutOfRange) {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xff, 0xff, 0xff, 0xff}, m.Bytes()); diff != "" {
		t.Fatalf("partial write (-want +got):\n%s", diff)
	}
}

func TestFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "eeprom.bin")
	f, err := Open(p, 16)
	if err != nil {
		t.Fatal(err)
	}
	if f.Size() != 16 {
		t.Fatal(f.Size())
	}
	if _, err := f.WriteAt([]byte{0xaa, 0x55}, 14); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xaa, 0x55}, 15); !errors.Is(err, ErrOutOfRange) {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening keeps the content.
	if f, err = Open(p, 16); err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, 4)
	if n, err := f.ReadAt(buf, 12); n != 4 || err != nil {
		t.Fatal(n, err)
	}
	if diff := cmp.Diff([]byte{0xff, 0xff, 0xaa, 0x55}, buf); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if n, err := f.ReadAt(buf, 14); n != 2 || err != io.EOF {
		t.Fatal(n, err)
	}
}
