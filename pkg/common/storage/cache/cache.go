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
	"context"

	"github.com/sealmsg/group-server/pkg/common/storage/model"
)

// DeviceAddress identifies one online device session: the uid, the device
// slot and the gateway host:port holding the connection.
type DeviceAddress struct {
	UID      string `json:"uid"`
	DeviceID int32  `json:"deviceId"`
	Addr     string `json:"addr"`
}

// OnlineCache is the device-presence view maintained by the gateways.
type OnlineCache interface {
	SetDeviceOnline(ctx context.Context, addr DeviceAddress) error
	SetDeviceOffline(ctx context.Context, uid string, deviceID int32) error
	GetOnlineDevices(ctx context.Context, uid string) ([]DeviceAddress, error)
	// GetOnlineMasters filters uids down to those whose master device is
	// currently online, preserving the order of uids.
	GetOnlineMasters(ctx context.Context, uids []string) ([]DeviceAddress, error)
}

// QrCodePendingCache stores the short-lived qr-join records.
type QrCodePendingCache interface {
	Set(ctx context.Context, pending *model.QrCodePendingMember) error
	// Take returns errs.ErrRecordNotFound when the record is missing or
	// already expired.
	Take(ctx context.Context, gid int64, uid string) (*model.QrCodePendingMember, error)
	Delete(ctx context.Context, gid int64, uid string) error
}

// GroupCache is the read-through cache in front of the membership store.
type GroupCache interface {
	GetGroupInfo(ctx context.Context, gid int64) (*model.Group, error)
	GetMemberCount(ctx context.Context, gid int64) (*model.MemberCount, error)
	GetMemberUIDs(ctx context.Context, gid int64) ([]string, error)
	DelGroupInfo(ctx context.Context, gid int64) error
	DelMembers(ctx context.Context, gid int64) error
}

// KeyBundleCache is the process-local TTL cache consulted during rotation
// prepare. Misses never fail the caller.
type KeyBundleCache interface {
	Get(gid int64, version int64) ([]*model.KeyBundle, bool)
	Set(gid int64, version int64, bundles []*model.KeyBundle)
}
