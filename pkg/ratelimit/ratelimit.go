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

// Package ratelimit implements named token buckets whose counters live in
// redis, so every server instance throttles against the same budget. A
// consumed token is never refunded, even when the guarded operation fails:
// over-throttling is preferred to leakage.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sealmsg/group-server/pkg/common/prommetrics"
	"github.com/sealmsg/group-server/pkg/common/servererrs"
	"github.com/sealmsg/group-server/pkg/common/storage/cache/cachekey"

	"github.com/openimsdk/tools/errs"
	"github.com/redis/go-redis/v9"
)

// Limiter is one named bucket family addressed by (name, subjectKey).
type Limiter interface {
	Name() string
	// Acquire consumes one token and returns ErrLimiterRejected when the
	// bucket is exhausted.
	Acquire(ctx context.Context, subject string) error
	// Limited consults the bucket without consuming.
	Limited(ctx context.Context, subject string) (bool, error)
	// Update replaces (period, burst) without resetting live counters.
	Update(periodMs int64, burst int64)
}

// Subject key builders; the composition order is part of the bucket identity.
func SubjectUID(uid string) string { return uid }

func SubjectUIDGID(uid string, gid int64) string {
	return uid + "_" + strconv.FormatInt(gid, 10)
}

func SubjectGIDUID(gid int64, uid string) string {
	return strconv.FormatInt(gid, 10) + "_" + uid
}

// NewBucketLimiter builds a redis-counted bucket: the first acquire in a
// window creates the counter with the period as its TTL, later acquires
// increment it, and the burst+1-th within the window is rejected.
func NewBucketLimiter(rdb redis.UniversalClient, name string, periodMs, burst int64) Limiter {
	l := &bucketLimiter{rdb: rdb, name: name}
	l.periodMs.Store(periodMs)
	l.burst.Store(burst)
	return l
}

type bucketLimiter struct {
	rdb      redis.UniversalClient
	name     string
	periodMs atomic.Int64
	burst    atomic.Int64
}

func (l *bucketLimiter) Name() string { return l.name }

func (l *bucketLimiter) Acquire(ctx context.Context, subject string) error {
	key := cachekey.GetLimiterKey(l.name, subject)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return errs.Wrap(err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, key, time.Duration(l.periodMs.Load())*time.Millisecond).Err(); err != nil {
			return errs.Wrap(err)
		}
	}
	if count > l.burst.Load() {
		prommetrics.LimiterRejectCounter.WithLabelValues(l.name).Inc()
		return servererrs.ErrLimiterRejected.WrapMsg(fmt.Sprintf("limiter %s rejected", l.name), "subject", subject)
	}
	return nil
}

func (l *bucketLimiter) Limited(ctx context.Context, subject string) (bool, error) {
	val, err := l.rdb.Get(ctx, cachekey.GetLimiterKey(l.name, subject)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, errs.Wrap(err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, errs.Wrap(err)
	}
	return count >= l.burst.Load(), nil
}

func (l *bucketLimiter) Update(periodMs int64, burst int64) {
	l.periodMs.Store(periodMs)
	l.burst.Store(burst)
}

// NewDependencyLimiter composes a lower limiter with dependencies: the
// decision is LIMITED iff the lower is limited or any dependency is limited.
// Dependencies are consulted, never consumed.
func NewDependencyLimiter(lower Limiter, deps ...Limiter) Limiter {
	return &dependencyLimiter{lower: lower, deps: deps}
}

type dependencyLimiter struct {
	lower Limiter
	deps  []Limiter
}

func (l *dependencyLimiter) Name() string { return l.lower.Name() }

func (l *dependencyLimiter) Acquire(ctx context.Context, subject string) error {
	for _, dep := range l.deps {
		limited, err := dep.Limited(ctx, subject)
		if err != nil {
			return err
		}
		if limited {
			return servererrs.ErrLimiterRejected.WrapMsg(
				fmt.Sprintf("limiter %s rejected by dependency %s", l.lower.Name(), dep.Name()), "subject", subject)
		}
	}
	return l.lower.Acquire(ctx, subject)
}

func (l *dependencyLimiter) Limited(ctx context.Context, subject string) (bool, error) {
	limited, err := l.lower.Limited(ctx, subject)
	if err != nil || limited {
		return limited, err
	}
	for _, dep := range l.deps {
		limited, err := dep.Limited(ctx, subject)
		if err != nil || limited {
			return limited, err
		}
	}
	return false, nil
}

func (l *dependencyLimiter) Update(periodMs int64, burst int64) {
	l.lower.Update(periodMs, burst)
}
