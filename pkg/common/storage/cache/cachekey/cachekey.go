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

// Package cachekey centralises every redis key layout so collisions and
// migrations stay visible in one place.
package cachekey

import (
	"strconv"
	"strings"
)

const (
	onlineKey      = "online:"
	qrPendingKey   = "qr_pending:"
	limiterKey     = "limiter:"
	groupInfoKey   = "group_info:"
	memberCountKey = "group_member_cnt:"
	memberUIDsKey  = "group_member_uids:"
)

func GetOnlineKey(uid string) string {
	return onlineKey + uid
}

func GetOnlineKeyUID(key string) string {
	return strings.TrimPrefix(key, onlineKey)
}

func GetQrPendingKey(gid int64, uid string) string {
	return qrPendingKey + strconv.FormatInt(gid, 10) + ":" + uid
}

func GetLimiterKey(name, subject string) string {
	return limiterKey + name + ":" + subject
}

func GetGroupInfoKey(gid int64) string {
	return groupInfoKey + strconv.FormatInt(gid, 10)
}

func GetMemberCountKey(gid int64) string {
	return memberCountKey + strconv.FormatInt(gid, 10)
}

func GetMemberUIDsKey(gid int64) string {
	return memberUIDsKey + strconv.FormatInt(gid, 10)
}
