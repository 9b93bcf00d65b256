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

package ratelimit

import (
	"context"

	"github.com/sealmsg/group-server/pkg/common/config"

	"github.com/openimsdk/tools/log"
	"github.com/redis/go-redis/v9"
)

// Limiter names; they key the redis counters, so renaming one resets its
// live windows.
const (
	NameGroupCreation   = "group_creation"
	NameGroupKeysUpdate = "group_keys_update"
	NameDhKeys          = "dh_keys"
	NameGroupMemberJoin = "group_member_join"
)

// Registry owns the server's limiters. It is built once at startup and
// updated in place on config reload; there is no process-wide singleton.
type Registry struct {
	GroupCreation   Limiter
	GroupKeysUpdate Limiter
	DhKeys          Limiter
	GroupMemberJoin Limiter
}

func NewRegistry(rdb redis.UniversalClient, cfg *config.RateLimit) *Registry {
	groupCreation := NewBucketLimiter(rdb, NameGroupCreation, cfg.GroupCreation.PeriodMs, cfg.GroupCreation.Burst)
	return &Registry{
		GroupCreation:   groupCreation,
		GroupKeysUpdate: NewBucketLimiter(rdb, NameGroupKeysUpdate, cfg.GroupKeysUpdate.PeriodMs, cfg.GroupKeysUpdate.Burst),
		// Key uploads for freshly created groups ride on the creation budget.
		DhKeys:          NewDependencyLimiter(NewBucketLimiter(rdb, NameDhKeys, cfg.DhKeys.PeriodMs, cfg.DhKeys.Burst), groupCreation),
		GroupMemberJoin: NewBucketLimiter(rdb, NameGroupMemberJoin, cfg.GroupMemberJoin.PeriodMs, cfg.GroupMemberJoin.Burst),
	}
}

// Apply pushes new (period, burst) pairs into the live limiters without
// resetting their counters. It is the config watch callback.
func (r *Registry) Apply(ctx context.Context, cfg *config.RateLimit) {
	r.GroupCreation.Update(cfg.GroupCreation.PeriodMs, cfg.GroupCreation.Burst)
	r.GroupKeysUpdate.Update(cfg.GroupKeysUpdate.PeriodMs, cfg.GroupKeysUpdate.Burst)
	r.DhKeys.Update(cfg.DhKeys.PeriodMs, cfg.DhKeys.Burst)
	r.GroupMemberJoin.Update(cfg.GroupMemberJoin.PeriodMs, cfg.GroupMemberJoin.Burst)
	log.ZInfo(ctx, "rate limit config applied",
		"groupCreation", cfg.GroupCreation, "groupKeysUpdate", cfg.GroupKeysUpdate,
		"dhKeys", cfg.DhKeys, "groupMemberJoin", cfg.GroupMemberJoin)
}
