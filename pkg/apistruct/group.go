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

// Package apistruct holds the JSON request and response bodies of the HTTP
// surface. Field names are wire-stable; do not rename.
package apistruct

// CreateGroupReq creates a V3 group. members, memberProofs and
// membersGroupInfoSecrets are parallel lists.
type CreateGroupReq struct {
	Name                          string            `json:"name"`
	Icon                          string            `json:"icon"`
	Intro                         string            `json:"intro"`
	Broadcast                     int32             `json:"broadcast"`
	Members                       []string          `json:"members"`
	MemberProofs                  []string          `json:"memberProofs"`
	MembersGroupInfoSecrets       []string          `json:"membersGroupInfoSecrets"`
	OwnerProof                    string            `json:"ownerProof" binding:"required"`
	GroupKeys                     string            `json:"groupKeys" binding:"required"`
	GroupKeysMode                 int32             `json:"groupKeysMode"`
	EncryptedGroupInfoSecret      string            `json:"encryptedGroupInfoSecret" binding:"required"`
	EncryptedEphemeralKey         string            `json:"encryptedEphemeralKey" binding:"required"`
	QrCodeSetting                 string            `json:"qrCodeSetting" binding:"required"`
	ShareSignature                string            `json:"shareSignature" binding:"required"`
	ShareAndOwnerConfirmSignature string            `json:"shareAndOwnerConfirmSignature" binding:"required"`
	OwnerConfirm                  int32             `json:"ownerConfirm"`
	Ex                            map[string]string `json:"ex"`
}

type CreateGroupResp struct {
	GID int64 `json:"gid"`
}

// UpdateGroupReq patches group attributes; nil pointers are left untouched.
type UpdateGroupReq struct {
	GID                           int64             `json:"gid" binding:"required"`
	Name                          *string           `json:"name"`
	Icon                          *string           `json:"icon"`
	Intro                         *string           `json:"intro"`
	EncryptedGroupInfoSecret      *string           `json:"encryptedGroupInfoSecret"`
	EncryptedEphemeralKey         *string           `json:"encryptedEphemeralKey"`
	QrCodeSetting                 *string           `json:"qrCodeSetting"`
	ShareSignature                *string           `json:"shareSignature"`
	ShareAndOwnerConfirmSignature *string           `json:"shareAndOwnerConfirmSignature"`
	OwnerConfirm                  *int32            `json:"ownerConfirm"`
	Ex                            map[string]string `json:"ex"`
}

// SignatureInfo is one invitee's signed join consent used when the group
// requires owner confirmation.
type SignatureInfo struct {
	UID       string `json:"uid"`
	Signature string `json:"signature"`
}

type InviteGroupMemberReq struct {
	GID     int64    `json:"gid" binding:"required"`
	Members []string `json:"members" binding:"required"`
	// Role 0 defaults to full member; RoleSubscriber admits read-only
	// followers.
	Role                   int32           `json:"role"`
	MemberProofs           []string        `json:"memberProofs"`
	MemberGroupInfoSecrets []string        `json:"memberGroupInfoSecrets"`
	SignatureInfos         []SignatureInfo `json:"signatureInfos"`
}

type JoinGroupByCodeReq struct {
	GID       int64  `json:"gid" binding:"required"`
	QrCode    string `json:"qrCode" binding:"required"`
	QrToken   string `json:"qrToken" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Comment   string `json:"comment"`
}

type JoinGroupByCodeResp struct {
	EncryptedGroupInfoSecret string `json:"encryptedGroupInfoSecret,omitempty"`
	Pending                  bool   `json:"pending"`
}

type AddMeReq struct {
	GID             int64  `json:"gid" binding:"required"`
	GroupInfoSecret string `json:"groupInfoSecret" binding:"required"`
	Proof           string `json:"proof" binding:"required"`
}

// ReviewItem is one pending join decided by the owner.
type ReviewItem struct {
	UID             string `json:"uid" binding:"required"`
	Accepted        bool   `json:"accepted"`
	GroupInfoSecret string `json:"groupInfoSecret"`
	Inviter         string `json:"inviter"`
	Proof           string `json:"proof"`
}

type ReviewJoinRequestReq struct {
	GID  int64        `json:"gid" binding:"required"`
	List []ReviewItem `json:"list" binding:"required"`
}

type KickGroupMemberReq struct {
	GID     int64    `json:"gid" binding:"required"`
	Members []string `json:"members" binding:"required"`
}

type LeaveGroupReq struct {
	GID       int64  `json:"gid" binding:"required"`
	NextOwner string `json:"nextOwner"`
}

type UpdateRoleReq struct {
	GID  int64  `json:"gid" binding:"required"`
	UID  string `json:"uid" binding:"required"`
	Role int32  `json:"role"`
}

type MuteMemberReq struct {
	GID     int64    `json:"gid" binding:"required"`
	Members []string `json:"members" binding:"required"`
}

type UpdateMyInfoReq struct {
	GID           int64   `json:"gid" binding:"required"`
	GroupNickname *string `json:"groupNickname"`
	ProfileKeys   *string `json:"profileKeys"`
	LastAckMid    *int64  `json:"lastAckMid"`
}

type GetMembersReq struct {
	GID  int64    `json:"gid" binding:"required"`
	UIDs []string `json:"uids"`
}

// MemberEntry is the wire view of one group member.
type MemberEntry struct {
	UID             string `json:"uid"`
	Role            int32  `json:"role"`
	GroupInfoSecret string `json:"groupInfoSecret,omitempty"`
	Proof           string `json:"proof,omitempty"`
	Nick            string `json:"nick,omitempty"`
	Nickname        string `json:"nickname,omitempty"`
	GroupNickname   string `json:"groupNickname,omitempty"`
	ProfileKeys     string `json:"profileKeys,omitempty"`
	Status          int64  `json:"status"`
	CreateTime      int64  `json:"createTime"`
}

type GetMembersResp struct {
	Members []MemberEntry `json:"members"`
}

// PageMembersReq walks the full member list with the composite cursor
// (createTime asc, uid asc). The first page sends a zero cursor.
type PageMembersReq struct {
	GID             int64   `json:"gid" binding:"required"`
	Roles           []int32 `json:"roles"`
	StartUID        string  `json:"startUid"`
	StartCreateTime int64   `json:"startCreateTime"`
	Count           int     `json:"count"`
}

type PageMembersResp struct {
	Members []MemberEntry `json:"members"`
	// HasMore is true when a further page may exist.
	HasMore bool `json:"hasMore"`
}

// SysMsgsReq fetches group system messages after mid for catch-up.
type SysMsgsReq struct {
	GID   int64 `json:"gid" binding:"required"`
	Mid   int64 `json:"mid"`
	Count int   `json:"count"`
}

type SysMsgEntry struct {
	Mid        int64  `json:"mid"`
	Kind       string `json:"kind"`
	Body       string `json:"body"`
	CreateTime int64  `json:"createTime"`
}

type SysMsgsResp struct {
	Msgs []SysMsgEntry `json:"msgs"`
}

type GetGroupKeysReq struct {
	GID      int64   `json:"gid" binding:"required"`
	Versions []int64 `json:"versions" binding:"required"`
}

// GroupKeyEntry is one key record on the wire; keys is the stored JSON object
// projected to the caller.
type GroupKeyEntry struct {
	GID            int64  `json:"gid"`
	Version        int64  `json:"version"`
	GroupKeysMode  int32  `json:"groupKeysMode"`
	EncryptVersion int32  `json:"encryptVersion"`
	Keys           string `json:"keys"`
}

type GetGroupKeysResp struct {
	Keys []GroupKeyEntry `json:"keys"`
}

type GetLatestGroupKeysReq struct {
	GIDs []int64 `json:"gids" binding:"required"`
}

type GetLatestGroupKeysResp struct {
	Keys []GroupKeyEntry `json:"keys"`
}

type FireGroupKeysUpdateReq struct {
	GIDs []int64 `json:"gids" binding:"required"`
}

type UploadGroupKeysReq struct {
	GID            int64  `json:"gid" binding:"required"`
	Version        int64  `json:"version"`
	GroupKeysMode  int32  `json:"groupKeysMode"`
	EncryptVersion int32  `json:"encryptVersion"`
	GroupKeys      string `json:"groupKeys" binding:"required"`
}

type PrepareKeyUpdateReq struct {
	GID     int64 `json:"gid" binding:"required"`
	Version int64 `json:"version"`
	Mode    int32 `json:"mode"`
}

type PrepareKeyUpdateResp struct {
	Keys []KeyBundleEntry `json:"keys"`
}

type KeyBundleEntry struct {
	UID          string `json:"uid"`
	DeviceID     int32  `json:"deviceId"`
	IdentityKey  string `json:"identityKey"`
	SignedPreKey string `json:"signedPreKey"`
	OneTimeKey   string `json:"oneTimeKey"`
}

type GetDhKeysReq struct {
	UIDs []string `json:"uids" binding:"required"`
}

type GetDhKeysResp struct {
	Keys []KeyBundleEntry `json:"keys"`
}
