// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package partition

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// offsetStore persists the per-consumer offsets map of one partition in
// the `<pid>.offsets` file. The file is rewritten on every store: the map
// is small (one entry per consumer) and a full rewrite keeps the format
// trivially recoverable. Entries are `[u32 key_len][key][u64 offset]`,
// little-endian like everything else on disk.
type offsetStore struct {
	mu      sync.Mutex
	path    string
	offsets map[string]uint64
}

func openOffsetStore(path string) (*offsetStore, error) {
	s := &offsetStore{path: path, offsets: make(map[string]uint64)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
		}
		var offset uint64
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
		}
		s.offsets[string(key)] = offset
	}
	return s, nil
}

func (s *offsetStore) get(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.offsets[key]
	return v, ok
}

func (s *offsetStore) store(key string, offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[key] = offset
	return s.persistLocked()
}

func (s *offsetStore) delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offsets[key]; !ok {
		return nil
	}
	delete(s.offsets, key)
	return s.persistLocked()
}

func (s *offsetStore) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = make(map[string]uint64)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	return nil
}

// persistLocked writes the whole map to a temp file and renames it over
// the old one so a crash mid-write never leaves a torn offsets file.
func (s *offsetStore) persistLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	w := bufio.NewWriter(f)
	for key, offset := range s.offsets {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(key))); err != nil {
			f.Close()
			return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
		}
		if _, err := w.WriteString(key); err != nil {
			f.Close()
			return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
		}
		if err := binary.Write(w, binary.LittleEndian, offset); err != nil {
			f.Close()
			return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	if err := f.Close(); err != nil {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	return nil
}
