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
	"math/rand"

	"github.com/sealmsg/group-server/pkg/common/storage/cache"
)

// MemberUIDsLister is the slice of the membership store the selector needs.
type MemberUIDsLister interface {
	FindMemberUIDs(ctx context.Context, gid int64) ([]string, error)
}

// CandidateSelector picks the rotation quorum among the group's online
// master devices. Selection is deterministic in (seed, online set): every
// server evaluating the same rotation sees the same quorum.
type CandidateSelector struct {
	members MemberUIDsLister
	online  cache.OnlineCache
}

func NewCandidateSelector(members MemberUIDsLister, online cache.OnlineCache) *CandidateSelector {
	return &CandidateSelector{members: members, online: online}
}

func (s *CandidateSelector) Select(ctx context.Context, gid int64, seed int64, count int) ([]cache.DeviceAddress, error) {
	uids, err := s.members.FindMemberUIDs(ctx, gid)
	if err != nil {
		return nil, err
	}
	masters, err := s.online.GetOnlineMasters(ctx, uids)
	if err != nil {
		return nil, err
	}
	if len(masters) <= count {
		return masters, nil
	}
	start := rand.New(rand.NewSource(seed)).Intn(len(masters))
	quorum := make([]cache.DeviceAddress, 0, count)
	for i := 0; i < len(masters) && len(quorum) < count; i++ {
		quorum = append(quorum, masters[(start+i)%len(masters)])
	}
	return quorum, nil
}

// InQuorum reports whether uid holds a seat in the quorum.
func InQuorum(quorum []cache.DeviceAddress, uid string) bool {
	for _, addr := range quorum {
		if addr.UID == uid {
			return true
		}
	}
	return false
}
