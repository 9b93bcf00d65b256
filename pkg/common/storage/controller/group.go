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

package controller

import (
	"context"
	"time"

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/db/tx"
	"github.com/openimsdk/tools/log"
)

// GroupDatabase is the single mutable-state facade the membership logic talks
// to. It owns cache invalidation; callers never touch the caches directly.
type GroupDatabase interface {
	CreateGroup(ctx context.Context, group *model.Group, members []*model.GroupMember) error
	TakeGroup(ctx context.Context, gid int64) (*model.Group, error)
	FindGroup(ctx context.Context, gids []int64) ([]*model.Group, error)
	UpdateGroup(ctx context.Context, gid int64, data map[string]any) error
	DeleteGroup(ctx context.Context, gid int64) error

	CreateMembers(ctx context.Context, members []*model.GroupMember) error
	TakeMember(ctx context.Context, gid int64, uid string) (*model.GroupMember, error)
	FindMembers(ctx context.Context, gid int64, uids []string) ([]*model.GroupMember, error)
	FindAllMembers(ctx context.Context, gid int64) ([]*model.GroupMember, error)
	FindMemberUIDs(ctx context.Context, gid int64) ([]string, error)
	FindMembersByRole(ctx context.Context, gid int64, roles []int32, startUid string, count int) ([]*model.GroupMember, error)
	FindMembersOrdered(ctx context.Context, gid int64, roles []int32, startUid string, createTime int64, count int) ([]*model.GroupMember, error)
	TakeOwner(ctx context.Context, gid int64) (*model.GroupMember, error)
	UpdateMember(ctx context.Context, gid int64, uid string, data map[string]any) error
	UpdateMemberIfEmpty(ctx context.Context, gid int64, uid string, data map[string]any) (bool, error)
	DeleteMembers(ctx context.Context, gid int64, uids []string) error
	CountMembers(ctx context.Context, gid int64) (*model.MemberCount, error)
	// TransferOwner applies the leaver's removal and the promotion in one
	// transaction so the one-owner invariant holds at every commit point.
	TransferOwner(ctx context.Context, gid int64, oldOwner, newOwner string, removeOld bool) error

	CreatePending(ctx context.Context, pending *model.PendingMember) error
	TakePending(ctx context.Context, gid int64, uid string) (*model.PendingMember, error)
	FindPendings(ctx context.Context, gid int64) ([]*model.PendingMember, error)
	DeletePendings(ctx context.Context, gid int64, uids []string) error
	DeleteAllPendings(ctx context.Context, gid int64) error

	SetQrPending(ctx context.Context, pending *model.QrCodePendingMember) error
	TakeQrPending(ctx context.Context, gid int64, uid string) (*model.QrCodePendingMember, error)
	DeleteQrPending(ctx context.Context, gid int64, uid string) error

	// EmitSysMsg persists one group system message under the next mid.
	EmitSysMsg(ctx context.Context, gid int64, kind string, body string) (int64, error)
	// FindSysMsgsAfter returns up to count system messages with mid > mid,
	// mid ascending, for client catch-up.
	FindSysMsgsAfter(ctx context.Context, gid int64, mid int64, count int) ([]*model.GroupSysMsg, error)
	// PruneSysMsgs drops system messages older than before, all groups.
	PruneSysMsgs(ctx context.Context, before time.Time) error
}

func NewGroupDatabase(
	groupDB database.Group,
	memberDB database.GroupMember,
	pendingDB database.PendingMember,
	sysMsgDB database.GroupSysMsg,
	qrPending cache.QrCodePendingCache,
	groupCache cache.GroupCache,
	ctxTx tx.Tx,
) GroupDatabase {
	return &groupDatabase{
		groupDB:   groupDB,
		memberDB:  memberDB,
		pendingDB: pendingDB,
		sysMsgDB:  sysMsgDB,
		qrPending: qrPending,
		cache:     groupCache,
		ctxTx:     ctxTx,
	}
}

type groupDatabase struct {
	groupDB   database.Group
	memberDB  database.GroupMember
	pendingDB database.PendingMember
	sysMsgDB  database.GroupSysMsg
	qrPending cache.QrCodePendingCache
	cache     cache.GroupCache
	ctxTx     tx.Tx
}

func (g *groupDatabase) delGroupCache(ctx context.Context, gid int64, members bool) {
	if err := g.cache.DelGroupInfo(ctx, gid); err != nil {
		log.ZWarn(ctx, "del group info cache failed", err, "gid", gid)
	}
	if members {
		if err := g.cache.DelMembers(ctx, gid); err != nil {
			log.ZWarn(ctx, "del group members cache failed", err, "gid", gid)
		}
	}
}

func (g *groupDatabase) CreateGroup(ctx context.Context, group *model.Group, members []*model.GroupMember) error {
	err := g.ctxTx.Transaction(ctx, func(ctx context.Context) error {
		if err := g.groupDB.Create(ctx, group); err != nil {
			return err
		}
		if len(members) > 0 {
			return g.memberDB.Create(ctx, members)
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.delGroupCache(ctx, group.GID, true)
	return nil
}

func (g *groupDatabase) TakeGroup(ctx context.Context, gid int64) (*model.Group, error) {
	return g.cache.GetGroupInfo(ctx, gid)
}

func (g *groupDatabase) FindGroup(ctx context.Context, gids []int64) ([]*model.Group, error) {
	return g.groupDB.Find(ctx, gids)
}

func (g *groupDatabase) UpdateGroup(ctx context.Context, gid int64, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	data["update_time"] = time.Now()
	if err := g.groupDB.UpdateMap(ctx, gid, data); err != nil {
		return err
	}
	g.delGroupCache(ctx, gid, false)
	return nil
}

func (g *groupDatabase) DeleteGroup(ctx context.Context, gid int64) error {
	err := g.ctxTx.Transaction(ctx, func(ctx context.Context) error {
		if err := g.memberDB.Delete(ctx, gid, nil); err != nil {
			return err
		}
		if err := g.pendingDB.DeleteAll(ctx, gid); err != nil {
			return err
		}
		return g.groupDB.Delete(ctx, gid)
	})
	if err != nil {
		return err
	}
	g.delGroupCache(ctx, gid, true)
	return nil
}

func (g *groupDatabase) CreateMembers(ctx context.Context, members []*model.GroupMember) error {
	if len(members) == 0 {
		return nil
	}
	if err := g.memberDB.Create(ctx, members); err != nil {
		return err
	}
	g.delGroupCache(ctx, members[0].GID, true)
	return nil
}

func (g *groupDatabase) TakeMember(ctx context.Context, gid int64, uid string) (*model.GroupMember, error) {
	return g.memberDB.Take(ctx, gid, uid)
}

func (g *groupDatabase) FindMembers(ctx context.Context, gid int64, uids []string) ([]*model.GroupMember, error) {
	return g.memberDB.Find(ctx, gid, uids)
}

func (g *groupDatabase) FindAllMembers(ctx context.Context, gid int64) ([]*model.GroupMember, error) {
	return g.memberDB.FindAll(ctx, gid)
}

func (g *groupDatabase) FindMemberUIDs(ctx context.Context, gid int64) ([]string, error) {
	return g.cache.GetMemberUIDs(ctx, gid)
}

func (g *groupDatabase) FindMembersByRole(ctx context.Context, gid int64, roles []int32, startUid string, count int) ([]*model.GroupMember, error) {
	return g.memberDB.FindByRole(ctx, gid, roles, startUid, count)
}

func (g *groupDatabase) FindMembersOrdered(ctx context.Context, gid int64, roles []int32, startUid string, createTime int64, count int) ([]*model.GroupMember, error) {
	return g.memberDB.FindOrderedByCreateTime(ctx, gid, roles, startUid, createTime, count)
}

func (g *groupDatabase) TakeOwner(ctx context.Context, gid int64) (*model.GroupMember, error) {
	return g.memberDB.TakeOwner(ctx, gid)
}

func (g *groupDatabase) UpdateMember(ctx context.Context, gid int64, uid string, data map[string]any) error {
	if err := g.memberDB.Update(ctx, gid, uid, data); err != nil {
		return err
	}
	g.delGroupCache(ctx, gid, true)
	return nil
}

func (g *groupDatabase) UpdateMemberIfEmpty(ctx context.Context, gid int64, uid string, data map[string]any) (bool, error) {
	updated, err := g.memberDB.UpdateIfEmpty(ctx, gid, uid, data)
	if err != nil {
		return false, err
	}
	if updated {
		g.delGroupCache(ctx, gid, true)
	}
	return updated, nil
}

func (g *groupDatabase) DeleteMembers(ctx context.Context, gid int64, uids []string) error {
	if err := g.memberDB.Delete(ctx, gid, uids); err != nil {
		return err
	}
	g.delGroupCache(ctx, gid, true)
	return nil
}

func (g *groupDatabase) CountMembers(ctx context.Context, gid int64) (*model.MemberCount, error) {
	return g.cache.GetMemberCount(ctx, gid)
}

func (g *groupDatabase) TransferOwner(ctx context.Context, gid int64, oldOwner, newOwner string, removeOld bool) error {
	err := g.ctxTx.Transaction(ctx, func(ctx context.Context) error {
		if err := g.memberDB.Update(ctx, gid, newOwner, map[string]any{"role": constant.RoleOwner}); err != nil {
			return err
		}
		if removeOld {
			return g.memberDB.Delete(ctx, gid, []string{oldOwner})
		}
		return g.memberDB.Update(ctx, gid, oldOwner, map[string]any{"role": constant.RoleMember})
	})
	if err != nil {
		return err
	}
	g.delGroupCache(ctx, gid, true)
	return nil
}

func (g *groupDatabase) CreatePending(ctx context.Context, pending *model.PendingMember) error {
	return g.pendingDB.Create(ctx, pending)
}

func (g *groupDatabase) TakePending(ctx context.Context, gid int64, uid string) (*model.PendingMember, error) {
	return g.pendingDB.Take(ctx, gid, uid)
}

func (g *groupDatabase) FindPendings(ctx context.Context, gid int64) ([]*model.PendingMember, error) {
	return g.pendingDB.FindAll(ctx, gid)
}

func (g *groupDatabase) DeletePendings(ctx context.Context, gid int64, uids []string) error {
	return g.pendingDB.Delete(ctx, gid, uids)
}

func (g *groupDatabase) DeleteAllPendings(ctx context.Context, gid int64) error {
	return g.pendingDB.DeleteAll(ctx, gid)
}

func (g *groupDatabase) SetQrPending(ctx context.Context, pending *model.QrCodePendingMember) error {
	return g.qrPending.Set(ctx, pending)
}

func (g *groupDatabase) TakeQrPending(ctx context.Context, gid int64, uid string) (*model.QrCodePendingMember, error) {
	return g.qrPending.Take(ctx, gid, uid)
}

func (g *groupDatabase) DeleteQrPending(ctx context.Context, gid int64, uid string) error {
	return g.qrPending.Delete(ctx, gid, uid)
}

func (g *groupDatabase) EmitSysMsg(ctx context.Context, gid int64, kind string, body string) (int64, error) {
	mid, err := g.groupDB.NextMid(ctx, gid)
	if err != nil {
		return 0, err
	}
	err = g.sysMsgDB.Insert(ctx, &model.GroupSysMsg{
		GID:        gid,
		Mid:        mid,
		Kind:       kind,
		Body:       body,
		CreateTime: time.Now(),
	})
	if err != nil {
		return 0, err
	}
	return mid, nil
}

func (g *groupDatabase) FindSysMsgsAfter(ctx context.Context, gid int64, mid int64, count int) ([]*model.GroupSysMsg, error) {
	return g.sysMsgDB.FindAfter(ctx, gid, mid, count)
}

func (g *groupDatabase) PruneSysMsgs(ctx context.Context, before time.Time) error {
	return g.sysMsgDB.DeleteBefore(ctx, before)
}
