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

// Package nvs provides a small namespaced key-value store, modeled on the
// ESP32 Preferences API the sector calibrator's persistence layout was
// designed against: one namespace per wheel, small bool/uint16/byte-slice
// records per key.
package nvs

// Store is a namespaced key-value store. Every method operates within a
// single namespace fixed at construction of the concrete Store.
type Store interface {
	Has(key string) bool
	GetBool(key string, def bool) bool
	PutBool(key string, v bool) error
	GetUint16(key string, def uint16) uint16
	PutUint16(key string, v uint16) error
	GetBytes(key string) ([]byte, bool)
	PutBytes(key string, v []byte) error
}
