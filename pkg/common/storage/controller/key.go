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

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/servererrs"
	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/database/mgo"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/log"
)

// KeyDatabase wraps the append-only key-record store. Insert surfaces a lost
// CAS race as ErrKeyVersionConflict so callers never inspect driver errors.
type KeyDatabase interface {
	Insert(ctx context.Context, record *model.KeyRecord) error
	Find(ctx context.Context, gid int64, versions []int64) ([]*model.KeyRecord, error)
	Latest(ctx context.Context, gid int64) (*model.KeyRecord, error)
	LatestBatch(ctx context.Context, gids []int64) (map[int64]*model.KeyRecord, error)
	LatestModeAndVersion(ctx context.Context, gid int64) (mode int32, version int64, err error)
	// LatestMode never fails: a store error falls back to KeyModeUnknown so
	// the rotation policy can take its conservative branch.
	LatestMode(ctx context.Context, gid int64) int32
	Clear(ctx context.Context, gid int64) error
	GC(ctx context.Context, keepWindow int64) error
}

func NewKeyDatabase(keyDB database.KeyVersion) KeyDatabase {
	return &keyDatabase{keyDB: keyDB}
}

type keyDatabase struct {
	keyDB database.KeyVersion
}

func (k *keyDatabase) Insert(ctx context.Context, record *model.KeyRecord) error {
	err := k.keyDB.Insert(ctx, record)
	if err == nil {
		return nil
	}
	if !mgo.IsDuplicateKeyError(err) {
		return err
	}
	// A retried upload whose first attempt already landed carries the same
	// payload; only a different payload lost the CAS race.
	existing, findErr := k.keyDB.Find(ctx, record.GID, []int64{record.Version})
	if findErr != nil {
		log.ZWarn(ctx, "duplicate key record reread failed", findErr, "gid", record.GID, "version", record.Version)
	} else if len(existing) == 1 && sameKeyRecord(existing[0], record) {
		return nil
	}
	return servererrs.ErrKeyVersionConflict.WrapMsg("key version already exists", "gid", record.GID, "version", record.Version)
}

func sameKeyRecord(a, b *model.KeyRecord) bool {
	return a.Creator == b.Creator && a.Mode == b.Mode && a.EncryptVersion == b.EncryptVersion && a.Keys == b.Keys
}

func (k *keyDatabase) Find(ctx context.Context, gid int64, versions []int64) ([]*model.KeyRecord, error) {
	return k.keyDB.Find(ctx, gid, versions)
}

func (k *keyDatabase) Latest(ctx context.Context, gid int64) (*model.KeyRecord, error) {
	return k.keyDB.Latest(ctx, gid)
}

func (k *keyDatabase) LatestBatch(ctx context.Context, gids []int64) (map[int64]*model.KeyRecord, error) {
	return k.keyDB.LatestBatch(ctx, gids)
}

func (k *keyDatabase) LatestModeAndVersion(ctx context.Context, gid int64) (int32, int64, error) {
	return k.keyDB.LatestModeAndVersion(ctx, gid)
}

func (k *keyDatabase) LatestMode(ctx context.Context, gid int64) int32 {
	mode, _, err := k.keyDB.LatestModeAndVersion(ctx, gid)
	if err != nil {
		log.ZWarn(ctx, "latest mode lookup failed, falling back to unknown", err, "gid", gid)
		return constant.KeyModeUnknown
	}
	return mode
}

func (k *keyDatabase) Clear(ctx context.Context, gid int64) error {
	return k.keyDB.Clear(ctx, gid)
}

// GC drops records more than keepWindow versions behind each group's latest.
func (k *keyDatabase) GC(ctx context.Context, keepWindow int64) error {
	if keepWindow <= 0 {
		return nil
	}
	gids, err := k.keyDB.GroupIDs(ctx)
	if err != nil {
		return err
	}
	for _, gid := range gids {
		_, latest, err := k.keyDB.LatestModeAndVersion(ctx, gid)
		if err != nil {
			log.ZWarn(ctx, "key gc skip group", err, "gid", gid)
			continue
		}
		if latest < keepWindow {
			continue
		}
		if err := k.keyDB.DeleteBefore(ctx, gid, latest-keepWindow+1); err != nil {
			log.ZWarn(ctx, "key gc delete failed", err, "gid", gid)
		}
	}
	return nil
}
