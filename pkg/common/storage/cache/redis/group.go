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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	"github.com/sealmsg/group-server/pkg/common/storage/cache/cachekey"
	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/dtm-labs/rockscache"
	"github.com/openimsdk/tools/errs"
	"github.com/redis/go-redis/v9"
)

const (
	groupCacheExpire  = 12 * time.Hour
	rocksCacheTimeout = 10 * time.Second
)

// GetRocksCacheOptions is the shared rockscache tuning: strong consistency so
// a delete is visible before the next fetch, with jittered expiry.
func GetRocksCacheOptions() *rockscache.Options {
	opts := rockscache.NewDefaultOptions()
	opts.LockExpire = rocksCacheTimeout
	opts.WaitReplicasTimeout = rocksCacheTimeout
	opts.StrongConsistency = true
	opts.RandomExpireAdjustment = 0.2
	return &opts
}

func NewGroupCacheRedis(rdb redis.UniversalClient, groupDB database.Group, memberDB database.GroupMember) cache.GroupCache {
	return &groupCacheRedis{
		rcClient: rockscache.NewClient(rdb, *GetRocksCacheOptions()),
		groupDB:  groupDB,
		memberDB: memberDB,
		expire:   groupCacheExpire,
	}
}

type groupCacheRedis struct {
	rcClient *rockscache.Client
	groupDB  database.Group
	memberDB database.GroupMember
	expire   time.Duration
}

func getCache[T any](ctx context.Context, rcClient *rockscache.Client, key string, expire time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var t T
	var write bool
	v, err := rcClient.Fetch2(ctx, key, expire, func() (string, error) {
		var err error
		t, err = fn(ctx)
		if err != nil {
			return "", err
		}
		bs, err := json.Marshal(t)
		if err != nil {
			return "", errs.WrapMsg(err, "marshal failed")
		}
		write = true
		return string(bs), nil
	})
	if err != nil {
		return t, errs.Wrap(err)
	}
	if write {
		return t, nil
	}
	if v == "" {
		return t, errs.ErrRecordNotFound.WrapMsg("cache is not found")
	}
	if err := json.Unmarshal([]byte(v), &t); err != nil {
		return t, errs.WrapMsg(err, fmt.Sprintf("cache json.Unmarshal failed, key:%s", key))
	}
	return t, nil
}

func (g *groupCacheRedis) GetGroupInfo(ctx context.Context, gid int64) (*model.Group, error) {
	return getCache(ctx, g.rcClient, cachekey.GetGroupInfoKey(gid), g.expire,
		func(ctx context.Context) (*model.Group, error) {
			return g.groupDB.Take(ctx, gid)
		})
}

func (g *groupCacheRedis) GetMemberCount(ctx context.Context, gid int64) (*model.MemberCount, error) {
	return getCache(ctx, g.rcClient, cachekey.GetMemberCountKey(gid), g.expire,
		func(ctx context.Context) (*model.MemberCount, error) {
			return g.memberDB.Count(ctx, gid)
		})
}

func (g *groupCacheRedis) GetMemberUIDs(ctx context.Context, gid int64) ([]string, error) {
	return getCache(ctx, g.rcClient, cachekey.GetMemberUIDsKey(gid), g.expire,
		func(ctx context.Context) ([]string, error) {
			return g.memberDB.FindUserIDs(ctx, gid)
		})
}

func (g *groupCacheRedis) DelGroupInfo(ctx context.Context, gid int64) error {
	return errs.Wrap(g.rcClient.TagAsDeleted2(ctx, cachekey.GetGroupInfoKey(gid)))
}

func (g *groupCacheRedis) DelMembers(ctx context.Context, gid int64) error {
	if err := g.rcClient.TagAsDeleted2(ctx, cachekey.GetMemberCountKey(gid)); err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(g.rcClient.TagAsDeleted2(ctx, cachekey.GetMemberUIDsKey(gid)))
}
