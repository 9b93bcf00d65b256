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

package model

import "time"

// KeyRecord is one key epoch of a group. Records are immutable once written;
// writes are CAS on (gid, version). Keys holds the uploaded keys object
// verbatim so clients can evolve the inner schema without server migrations.
type KeyRecord struct {
	GID            int64     `bson:"gid"`
	Version        int64     `bson:"version"`
	Mode           int32     `bson:"mode"`
	EncryptVersion int32     `bson:"encrypt_version"`
	Creator        string    `bson:"creator"`
	CreateTime     time.Time `bson:"create_time"`
	Keys           string    `bson:"keys"`
}

// GroupKeys is the minimal shape the server deserializes when projecting a
// ONE_FOR_EACH record for one caller.
type GroupKeys struct {
	KeysV0         []OneForEachKey `json:"keys_v0,omitempty"`
	KeysV1         *AllTheSameKey  `json:"keys_v1,omitempty"`
	EncryptVersion int32           `json:"encrypt_version"`
}

// OneForEachKey is one per-recipient ciphertext entry.
type OneForEachKey struct {
	UID      string `json:"uid"`
	DeviceID int32  `json:"device_id"`
	Key      string `json:"key"`
}

// AllTheSameKey is the single shared ciphertext entry.
type AllTheSameKey struct {
	Key string `json:"key"`
}

// KeyBundle is one device's public key material as stored by the account
// service; the coordinator hands these to the rotation quorum.
type KeyBundle struct {
	UID          string `json:"uid"`
	DeviceID     int32  `json:"device_id"`
	IdentityKey  string `json:"identity_key"`
	SignedPreKey string `json:"signed_pre_key"`
	OneTimeKey   string `json:"one_time_key"`
}

// GroupSysMsg is one persisted group system message; mid is the per-group
// sequence taken from Group.LastMid.
type GroupSysMsg struct {
	GID        int64     `bson:"gid"`
	Mid        int64     `bson:"mid"`
	Kind       string    `bson:"kind"`
	Body       string    `bson:"body"`
	CreateTime time.Time `bson:"create_time"`
}
