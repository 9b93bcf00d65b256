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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	"github.com/sealmsg/group-server/pkg/common/storage/cache/cachekey"

	"github.com/openimsdk/tools/errs"
	"github.com/redis/go-redis/v9"
)

// NewDeviceOnline keeps device presence in one sorted set per uid: member is
// "deviceID@host:port", score is the expiry unix time. Entries past their
// score are treated as offline without needing an explicit cleanup pass.
func NewDeviceOnline(rdb redis.UniversalClient) cache.OnlineCache {
	return &deviceOnline{
		rdb:    rdb,
		expire: constant.OnlineExpire,
	}
}

type deviceOnline struct {
	rdb    redis.UniversalClient
	expire time.Duration
}

func onlineMember(deviceID int32, addr string) string {
	return fmt.Sprintf("%d@%s", deviceID, addr)
}

func parseOnlineMember(uid, member string) (cache.DeviceAddress, bool) {
	idx := strings.IndexByte(member, '@')
	if idx <= 0 {
		return cache.DeviceAddress{}, false
	}
	deviceID, err := strconv.Atoi(member[:idx])
	if err != nil {
		return cache.DeviceAddress{}, false
	}
	return cache.DeviceAddress{UID: uid, DeviceID: int32(deviceID), Addr: member[idx+1:]}, true
}

func (s *deviceOnline) SetDeviceOnline(ctx context.Context, addr cache.DeviceAddress) error {
	key := cachekey.GetOnlineKey(addr.UID)
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().Add(s.expire).Unix()),
		Member: onlineMember(addr.DeviceID, addr.Addr),
	})
	pipe.Expire(ctx, key, s.expire*2)
	_, err := pipe.Exec(ctx)
	return errs.Wrap(err)
}

func (s *deviceOnline) SetDeviceOffline(ctx context.Context, uid string, deviceID int32) error {
	key := cachekey.GetOnlineKey(uid)
	prefix := strconv.Itoa(int(deviceID)) + "@"
	members, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return errs.Wrap(err)
	}
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			if err := s.rdb.ZRem(ctx, key, m).Err(); err != nil {
				return errs.Wrap(err)
			}
		}
	}
	return nil
}

func (s *deviceOnline) GetOnlineDevices(ctx context.Context, uid string) ([]cache.DeviceAddress, error) {
	members, err := s.rdb.ZRangeByScore(ctx, cachekey.GetOnlineKey(uid), &redis.ZRangeBy{
		Min: strconv.FormatInt(time.Now().Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errs.Wrap(err)
	}
	addrs := make([]cache.DeviceAddress, 0, len(members))
	for _, m := range members {
		if addr, ok := parseOnlineMember(uid, m); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

func (s *deviceOnline) GetOnlineMasters(ctx context.Context, uids []string) ([]cache.DeviceAddress, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(uids))
	for i, uid := range uids {
		cmds[i] = pipe.ZRangeByScore(ctx, cachekey.GetOnlineKey(uid), &redis.ZRangeBy{
			Min: now,
			Max: "+inf",
		})
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errs.Wrap(err)
	}
	var masters []cache.DeviceAddress
	for i, uid := range uids {
		for _, m := range cmds[i].Val() {
			addr, ok := parseOnlineMember(uid, m)
			if ok && addr.DeviceID == constant.MasterDeviceID {
				masters = append(masters, addr)
				break
			}
		}
	}
	return masters, nil
}
