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

package constant

import "time"

// Group member role levels. Higher value means more authority, which lets
// permission checks compare levels directly.
const (
	RoleUndefined  int32 = 0
	RoleSubscriber int32 = 10
	RoleMember     int32 = 20
	RoleAdmin      int32 = 60
	RoleOwner      int32 = 100
)

// Group storage versions. Only V3 groups are key-epoch aware; V0 groups are
// kept readable for compatibility and never rotate keys.
const (
	GroupV0 int32 = 0
	GroupV3 int32 = 3
)

// Key packaging modes for a key record.
const (
	KeyModeUnknown    int32 = -1
	KeyModeOneForEach int32 = 0
	KeyModeAllTheSame int32 = 1
)

// ValidKeyMode reports whether mode is a mode clients may upload.
func ValidKeyMode(mode int32) bool {
	return mode == KeyModeOneForEach || mode == KeyModeAllTheSame
}

// OwnerConfirm values on a group.
const (
	OwnerConfirmOff int32 = 0
	OwnerConfirmOn  int32 = 1
)

// Member status bitfield.
const (
	MemberStatusMuted int64 = 1 << 0
)

// Pub/sub message kinds delivered to clients.
const (
	MsgUserEnterGroup         = "USER_ENTER_GROUP"
	MsgUserQuitGroup          = "USER_QUIT_GROUP"
	MsgUserMuteGroup          = "USER_MUTE_GROUP"
	MsgUserUnmuteGroup        = "USER_UNMUTE_GROUP"
	MsgUserChangeRole         = "USER_CHANGE_ROLE"
	MsgGroupInfoUpdate        = "GROUP_INFO_UPDATE"
	MsgGroupMemberUpdate      = "GROUP_MEMBER_UPDATE"
	MsgGroupSwitchKeys        = "GROUP_SWITCH_KEYS"
	MsgGroupUpdateKeysRequest = "GROUP_UPDATE_KEYS_REQUEST"
	MsgGroupKeyRefresh        = "GROUP_KEY_REFRESH"
	MsgGroupJoinReview        = "GROUP_JOIN_REVIEW"
)

// Persisted group system message kinds.
const (
	SysMsgMemberUpdate = "MEMBER_UPDATE"
	SysMsgInfoUpdate   = "INFO_UPDATE"
)

// Pub/sub channel naming.
const (
	UserChannelPrefix   = "user_"
	GroupEventChannel   = "group_event_msg"
	ServerChannelPrefix = "imserver_"
)

// Request list-size caps enforced at the API boundary.
const (
	MaxKeyVersionsPerQuery = 10
	MaxLatestKeysGids      = 5
	MaxFireGids            = 10
	MaxMembersPerQuery     = 500
	MaxDhKeysUids          = 100
	MaxMembersPageSize     = 200
	MaxSysMsgsPageSize     = 200
)

// Group extension map caps.
const (
	MaxExtensionEntries  = 256
	MaxExtensionKeyLen   = 256
	MaxExtensionValueLen = 128 * 1024
)

// Transport limits and timeouts.
const (
	MaxRequestBody = 64 << 20
	RequestTimeout = 180 * time.Second
)

// TTLs.
const (
	QrCodePendingTTL  = 60 * time.Second
	KeyBundleCacheTTL = 600 * time.Second
	OnlineExpire      = 5 * time.Minute
)

// Devices. Device slot 1 is the master device; only master devices take part
// in key-rotation quorums.
const MasterDeviceID int32 = 1
