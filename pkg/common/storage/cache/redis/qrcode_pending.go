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
	"time"

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	"github.com/sealmsg/group-server/pkg/common/storage/cache/cachekey"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/utils/jsonutil"
	"github.com/redis/go-redis/v9"
)

// NewQrCodePending stores qr-join records under a 60s TTL; redis expiry is
// the record lifecycle, no sweeper required.
func NewQrCodePending(rdb redis.UniversalClient) cache.QrCodePendingCache {
	return &qrCodePending{rdb: rdb, ttl: constant.QrCodePendingTTL}
}

type qrCodePending struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func (q *qrCodePending) Set(ctx context.Context, pending *model.QrCodePendingMember) error {
	data, err := jsonutil.JsonMarshal(pending)
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(q.rdb.Set(ctx, cachekey.GetQrPendingKey(pending.GID, pending.UID), data, q.ttl).Err())
}

func (q *qrCodePending) Take(ctx context.Context, gid int64, uid string) (*model.QrCodePendingMember, error) {
	data, err := q.rdb.Get(ctx, cachekey.GetQrPendingKey(gid, uid)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errs.ErrRecordNotFound.WrapMsg("qr code pending not found")
		}
		return nil, errs.Wrap(err)
	}
	var pending model.QrCodePendingMember
	if err := jsonutil.JsonUnmarshal(data, &pending); err != nil {
		return nil, errs.Wrap(err)
	}
	return &pending, nil
}

func (q *qrCodePending) Delete(ctx context.Context, gid int64, uid string) error {
	return errs.Wrap(q.rdb.Del(ctx, cachekey.GetQrPendingKey(gid, uid)).Err())
}
