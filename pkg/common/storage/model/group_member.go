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

// GroupMember keyed by (gid, uid). Status is a bitfield; bit 0 is mute.
type GroupMember struct {
	GID             int64     `bson:"gid"`
	UID             string    `bson:"uid"`
	Role            int32     `bson:"role"`
	EncryptedKey    string    `bson:"encrypted_key"`
	GroupInfoSecret string    `bson:"group_info_secret"`
	Proof           string    `bson:"proof"`
	Nick            string    `bson:"nick"`
	Nickname        string    `bson:"nickname"`
	GroupNickname   string    `bson:"group_nickname"`
	ProfileKeys     string    `bson:"profile_keys"`
	Status          int64     `bson:"status"`
	CreateTime      time.Time `bson:"create_time"`
	LastAckMid      int64     `bson:"last_ack_mid"`
}

// PendingMember is a join request awaiting owner review. Rows are removed on
// accept/reject and whenever the group's qrCodeSetting changes.
type PendingMember struct {
	GID        int64     `bson:"gid"`
	UID        string    `bson:"uid"`
	Inviter    string    `bson:"inviter"`
	Signature  string    `bson:"signature"`
	Comment    string    `bson:"comment"`
	CreateTime time.Time `bson:"create_time"`
}

// QrCodePendingMember is the ephemeral record created when a user passes qr
// validation on an ownerConfirm=0 group. It lives in redis with a short TTL
// and is consumed by addMe; json tags are its storage encoding.
type QrCodePendingMember struct {
	GID        int64     `json:"gid"`
	UID        string    `json:"uid"`
	CreateTime time.Time `json:"createTime"`
}
