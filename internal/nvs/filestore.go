// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nvs

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileStore persists one small file per key under dir, the same
// write-a-file-per-value idiom the sysfs drivers use for individual
// settings, applied here to whole records instead of single sysfs
// attributes.
type FileStore struct {
	dir string
}

// NewFileStore creates (if necessary) dir and returns a Store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

// Has reports whether key has a readable record, probing with unix.Access
// the same way the sysfs drivers probe exported attribute files before
// trusting them.
func (f *FileStore) Has(key string) bool {
	return unix.Access(f.path(key), unix.R_OK) == nil
}

func (f *FileStore) GetBool(key string, def bool) bool {
	b, ok := f.GetBytes(key)
	if !ok || len(b) != 1 {
		return def
	}
	return b[0] != 0
}

func (f *FileStore) PutBool(key string, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	return f.PutBytes(key, []byte{b})
}

func (f *FileStore) GetUint16(key string, def uint16) uint16 {
	b, ok := f.GetBytes(key)
	if !ok || len(b) != 2 {
		return def
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func (f *FileStore) PutUint16(key string, v uint16) error {
	return f.PutBytes(key, []byte{byte(v), byte(v >> 8)})
}

func (f *FileStore) GetBytes(key string) ([]byte, bool) {
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

func (f *FileStore) PutBytes(key string, v []byte) error {
	return os.WriteFile(f.path(key), v, 0600)
}
