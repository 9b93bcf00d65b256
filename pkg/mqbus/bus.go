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

// Package mqbus is the fire-and-forget notification channel to online
// members. Delivery is best effort: the gateways subscribed to a channel
// relay the payload to their connected devices, nothing is stored.
package mqbus

import (
	"context"
	"time"

	"github.com/sealmsg/group-server/pkg/common/constant"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/utils/jsonutil"
	"github.com/redis/go-redis/v9"
)

// Sent reports a completed publish and how many subscribers received it.
// Subscribers == 0 means nobody was listening, which is not an error.
type Sent struct {
	Subscribers int
}

// Bus is the typed publish surface. Retries belong to the caller, not here.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any) (Sent, error)
	PublishToUser(ctx context.Context, uid string, payload any) (Sent, error)
	PublishGroupEvent(ctx context.Context, payload any) (Sent, error)
	// AnnouncePresence publishes the server's liveness beat on its own
	// channel so peers can discover it.
	AnnouncePresence(ctx context.Context, addr string) (Sent, error)
}

func NewRedisBus(rdb redis.UniversalClient) Bus {
	return &redisBus{rdb: rdb}
}

type redisBus struct {
	rdb redis.UniversalClient
}

func (b *redisBus) Publish(ctx context.Context, channel string, payload any) (Sent, error) {
	data, err := jsonutil.JsonMarshal(payload)
	if err != nil {
		return Sent{}, errs.Wrap(err)
	}
	n, err := b.rdb.Publish(ctx, channel, data).Result()
	if err != nil {
		return Sent{}, errs.Wrap(err)
	}
	return Sent{Subscribers: int(n)}, nil
}

func (b *redisBus) PublishToUser(ctx context.Context, uid string, payload any) (Sent, error) {
	return b.Publish(ctx, constant.UserChannelPrefix+uid, payload)
}

func (b *redisBus) PublishGroupEvent(ctx context.Context, payload any) (Sent, error) {
	return b.Publish(ctx, constant.GroupEventChannel, payload)
}

func (b *redisBus) AnnouncePresence(ctx context.Context, addr string) (Sent, error) {
	return b.Publish(ctx, constant.ServerChannelPrefix+addr, presenceBeat{
		Addr: addr,
		Time: time.Now().UnixMilli(),
	})
}

type presenceBeat struct {
	Addr string `json:"addr"`
	Time int64  `json:"time"`
}
