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

package keyepoch

import (
	"context"

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/servererrs"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
	"github.com/openimsdk/tools/utils/jsonutil"
)

// FetchByVersions returns the requested key records projected to the caller's
// device. Non-members are rejected.
func (c *Coordinator) FetchByVersions(ctx context.Context, uid string, deviceID int32, gid int64, versions []int64) ([]*model.KeyRecord, error) {
	if len(versions) == 0 || len(versions) > constant.MaxKeyVersionsPerQuery {
		return nil, errs.ErrArgs.WrapMsg("bad versions count", "count", len(versions))
	}
	if _, err := c.groupDB.TakeMember(ctx, gid, uid); err != nil {
		return nil, servererrs.ErrNotInGroup.WrapMsg("caller is not a member", "gid", gid)
	}
	records, err := c.keyDB.Find(ctx, gid, versions)
	if err != nil {
		return nil, err
	}
	out := make([]*model.KeyRecord, 0, len(records))
	for _, record := range records {
		projected, err := projectRecord(ctx, record, uid, deviceID)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

// FetchLatest returns the newest record per gid, projected to the caller's
// device. Membership is checked per group; a group without records yet maps
// to a nil entry rather than an error.
func (c *Coordinator) FetchLatest(ctx context.Context, uid string, deviceID int32, gids []int64) (map[int64]*model.KeyRecord, error) {
	if len(gids) == 0 || len(gids) > constant.MaxLatestKeysGids {
		return nil, errs.ErrArgs.WrapMsg("bad gids count", "count", len(gids))
	}
	for _, gid := range gids {
		if _, err := c.groupDB.TakeMember(ctx, gid, uid); err != nil {
			return nil, servererrs.ErrNotInGroup.WrapMsg("caller is not a member", "gid", gid)
		}
	}
	latest, err := c.keyDB.LatestBatch(ctx, gids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*model.KeyRecord, len(gids))
	for _, gid := range gids {
		record, ok := latest[gid]
		if !ok {
			out[gid] = nil
			continue
		}
		projected, err := projectRecord(ctx, record, uid, deviceID)
		if err != nil {
			return nil, err
		}
		out[gid] = projected
	}
	return out, nil
}

// projectRecord narrows a ONE_FOR_EACH record down to the caller's own
// ciphertext entry; ALL_THE_SAME records pass through untouched.
func projectRecord(ctx context.Context, record *model.KeyRecord, uid string, deviceID int32) (*model.KeyRecord, error) {
	if record.Mode != constant.KeyModeOneForEach {
		return record, nil
	}
	var keys model.GroupKeys
	if err := jsonutil.JsonUnmarshal([]byte(record.Keys), &keys); err != nil {
		log.ZWarn(ctx, "stored keys object unreadable", err, "gid", record.GID, "version", record.Version)
		return nil, errs.Wrap(err)
	}
	own := make([]model.OneForEachKey, 0, 1)
	for _, entry := range keys.KeysV0 {
		if entry.UID == uid && entry.DeviceID == deviceID {
			own = append(own, entry)
		}
	}
	keys.KeysV0 = own
	data, err := jsonutil.JsonMarshal(&keys)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	projected := *record
	projected.Keys = string(data)
	return &projected, nil
}
