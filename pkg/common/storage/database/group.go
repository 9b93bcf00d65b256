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

package database

import (
	"context"
	"time"

	"github.com/sealmsg/group-server/pkg/common/storage/model"
)

// Group is the group-row store. Take returns errs.ErrRecordNotFound for an
// unknown gid; Create fails with a duplicate-key error when the gid exists.
type Group interface {
	Create(ctx context.Context, group *model.Group) error
	Take(ctx context.Context, gid int64) (*model.Group, error)
	Find(ctx context.Context, gids []int64) ([]*model.Group, error)
	UpdateMap(ctx context.Context, gid int64, args map[string]any) error
	Delete(ctx context.Context, gid int64) error
	// NextMid atomically increments last_mid and returns the new value.
	NextMid(ctx context.Context, gid int64) (int64, error)
}

// GroupMember is the (gid, uid) membership store.
type GroupMember interface {
	Create(ctx context.Context, members []*model.GroupMember) error
	Take(ctx context.Context, gid int64, uid string) (*model.GroupMember, error)
	Find(ctx context.Context, gid int64, uids []string) ([]*model.GroupMember, error)
	FindAll(ctx context.Context, gid int64) ([]*model.GroupMember, error)
	FindUserIDs(ctx context.Context, gid int64) ([]string, error)
	FindByRole(ctx context.Context, gid int64, roles []int32, startUid string, count int) ([]*model.GroupMember, error)
	// FindOrderedByCreateTime pages with the composite cursor
	// (create_time asc, uid asc); a zero createTime with empty startUid
	// starts from the beginning, otherwise the page begins strictly after
	// (createTime, startUid).
	FindOrderedByCreateTime(ctx context.Context, gid int64, roles []int32, startUid string, createTime int64, count int) ([]*model.GroupMember, error)
	TakeOwner(ctx context.Context, gid int64) (*model.GroupMember, error)
	Update(ctx context.Context, gid int64, uid string, data map[string]any) error
	// UpdateIfEmpty sets encrypted_key/group_info_secret only when the
	// stored value is still empty; reports whether a row was changed.
	UpdateIfEmpty(ctx context.Context, gid int64, uid string, data map[string]any) (bool, error)
	Delete(ctx context.Context, gid int64, uids []string) error
	Count(ctx context.Context, gid int64) (*model.MemberCount, error)
}

// PendingMember stores join requests awaiting owner review.
type PendingMember interface {
	Create(ctx context.Context, pending *model.PendingMember) error
	Take(ctx context.Context, gid int64, uid string) (*model.PendingMember, error)
	FindAll(ctx context.Context, gid int64) ([]*model.PendingMember, error)
	Delete(ctx context.Context, gid int64, uids []string) error
	DeleteAll(ctx context.Context, gid int64) error
}

// KeyVersion is the append-only key-record store. Insert is CAS on
// (gid, version) and returns a duplicate-key error on conflict.
type KeyVersion interface {
	Insert(ctx context.Context, record *model.KeyRecord) error
	Find(ctx context.Context, gid int64, versions []int64) ([]*model.KeyRecord, error)
	Latest(ctx context.Context, gid int64) (*model.KeyRecord, error)
	LatestBatch(ctx context.Context, gids []int64) (map[int64]*model.KeyRecord, error)
	// LatestModeAndVersion returns (KeyModeUnknown, -1, nil) when the group
	// has no records yet.
	LatestModeAndVersion(ctx context.Context, gid int64) (mode int32, version int64, err error)
	Clear(ctx context.Context, gid int64) error
	// DeleteBefore removes records with version < keep for the keep-window GC.
	DeleteBefore(ctx context.Context, gid int64, keep int64) error
	GroupIDs(ctx context.Context) ([]int64, error)
}

// GroupSysMsg persists the membership events of a group.
type GroupSysMsg interface {
	Insert(ctx context.Context, msg *model.GroupSysMsg) error
	FindAfter(ctx context.Context, gid int64, mid int64, count int) ([]*model.GroupSysMsg, error)
	// DeleteBefore prunes messages older than before across all groups.
	DeleteBefore(ctx context.Context, before time.Time) error
}
