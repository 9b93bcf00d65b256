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

// Group is the per-group row. Name, icon and intro are opaque blobs supplied
// by clients and may be ciphertext; the server never interprets them.
type Group struct {
	GID           int64  `bson:"gid"`
	Name          string `bson:"name"`
	Icon          string `bson:"icon"`
	Intro         string `bson:"intro"`
	Version       int32  `bson:"version"`
	EncryptStatus int32  `bson:"encrypt_status"`
	Broadcast     int32  `bson:"broadcast"`
	OwnerConfirm  int32  `bson:"owner_confirm"`

	// Share-invite chain: qrCodeSetting is the base64 signed plaintext,
	// shareSignature signs it, shareAndOwnerConfirmSignature signs
	// qrCodeSetting with the ownerConfirm byte appended.
	QrCodeSetting                 string `bson:"qr_code_setting"`
	ShareSignature                string `bson:"share_signature"`
	ShareAndOwnerConfirmSignature string `bson:"share_and_owner_confirm_signature"`

	EncryptedGroupInfoSecret string `bson:"encrypted_group_info_secret"`
	EncryptedEphemeralKey    string `bson:"encrypted_ephemeral_key"`

	LastMid    int64             `bson:"last_mid"`
	CreateTime time.Time         `bson:"create_time"`
	UpdateTime time.Time         `bson:"update_time"`
	Ex         map[string]string `bson:"ex"`
}

// MemberCount is the aggregate returned by the member-count query.
type MemberCount struct {
	MemberCnt     int64
	SubscriberCnt int64
	Owner         string
}
