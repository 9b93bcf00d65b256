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
	"testing"
	"time"

	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundles() []*model.KeyBundle {
	return []*model.KeyBundle{
		{UID: "u1", DeviceID: 1, IdentityKey: "ik1", SignedPreKey: "spk1", OneTimeKey: "otk1"},
		{UID: "u2", DeviceID: 1, IdentityKey: "ik2", SignedPreKey: "spk2"},
	}
}

func TestBundleFramingRoundTrip(t *testing.T) {
	in := sampleBundles()
	data, err := EncodeBundles(in)
	require.NoError(t, err)

	out, err := DecodeBundles(data)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.Equal(t, in[0].UID, out[0].UID)
	assert.Equal(t, in[1].SignedPreKey, out[1].SignedPreKey)
	assert.Empty(t, out[1].OneTimeKey)
}

func TestDecodeRejectsTruncatedFrames(t *testing.T) {
	data, err := EncodeBundles(sampleBundles())
	require.NoError(t, err)

	_, err = DecodeBundles(data[:3])
	assert.Error(t, err)
	_, err = DecodeBundles(data[:len(data)-1])
	assert.Error(t, err)
}

func TestKeyBundleCacheHitAndExpiry(t *testing.T) {
	c := NewKeyBundleCache(50 * time.Millisecond)

	_, ok := c.Get(1, 1)
	assert.False(t, ok)

	c.Set(1, 1, sampleBundles())
	got, ok := c.Get(1, 1)
	require.True(t, ok)
	require.Len(t, got, 2)

	// a different version is a different entry
	_, ok = c.Get(1, 2)
	assert.False(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(1, 1)
	assert.False(t, ok)
}
