// Copyright © 2024 SealMsg. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultKeyBundleSlots = 4096

// NewKeyBundleCache is the process-local TTL cache of key bundles used during
// rotation prepare. Values are stored framed (EncodeBundles) so an entry's
// memory cost matches what would go over the wire.
func NewKeyBundleCache(ttl time.Duration) KeyBundleCache {
	return &keyBundleCache{
		lru: expirable.NewLRU[string, []byte](defaultKeyBundleSlots, nil, ttl),
	}
}

type keyBundleCache struct {
	lru *expirable.LRU[string, []byte]
}

func bundleKey(gid, version int64) string {
	return fmt.Sprintf("%d:%d", gid, version)
}

func (c *keyBundleCache) Get(gid int64, version int64) ([]*model.KeyBundle, bool) {
	data, ok := c.lru.Get(bundleKey(gid, version))
	if !ok {
		return nil, false
	}
	bundles, err := DecodeBundles(data)
	if err != nil {
		// A decode failure is treated as a miss; the caller reloads.
		return nil, false
	}
	return bundles, true
}

func (c *keyBundleCache) Set(gid int64, version int64, bundles []*model.KeyBundle) {
	data, err := EncodeBundles(bundles)
	if err != nil {
		return
	}
	c.lru.Add(bundleKey(gid, version), data)
}

// EncodeBundles frames each bundle as a 4-byte little-endian length followed
// by the bundle's JSON bytes.
func EncodeBundles(bundles []*model.KeyBundle) ([]byte, error) {
	var out []byte
	var lenBuf [4]byte
	for _, b := range bundles {
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
		out = append(out, lenBuf[:]...)
		out = append(out, data...)
	}
	return out, nil
}

// DecodeBundles is the inverse of EncodeBundles.
func DecodeBundles(data []byte) ([]*model.KeyBundle, error) {
	var bundles []*model.KeyBundle
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated bundle frame header")
		}
		n := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("truncated bundle frame: want %d bytes, have %d", n, len(data))
		}
		var b model.KeyBundle
		if err := json.Unmarshal(data[:n], &b); err != nil {
			return nil, err
		}
		bundles = append(bundles, &b)
		data = data[n:]
	}
	return bundles, nil
}
