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

package group

import (
	"context"

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/log"
	"github.com/openimsdk/tools/utils/jsonutil"
	"golang.org/x/sync/errgroup"
)

// userPublishConcurrency caps the per-uid fan-out of one membership change.
const userPublishConcurrency = 8

// memberUpdateBody is the JSON body persisted with a MEMBER_UPDATE system
// message.
type memberUpdateBody struct {
	GID     int64    `json:"gid"`
	Action  string   `json:"action"`
	Members []string `json:"members"`
}

// groupEvent is the payload published on the group event channel.
type groupEvent struct {
	Kind string `json:"kind"`
	GID  int64  `json:"gid"`
	Mid  int64  `json:"mid,omitempty"`
}

// userEvent is the payload delivered on a user's own channel.
type userEvent struct {
	Kind string `json:"kind"`
	GID  int64  `json:"gid"`
	UID  string `json:"uid"`
	Role int32  `json:"role,omitempty"`
}

// notifyMemberChange persists the MEMBER_UPDATE system message, announces it
// on the group channel and delivers userKind to each affected uid. Delivery
// is best effort; failures are logged, never returned.
func (s *Server) notifyMemberChange(ctx context.Context, gid int64, action, userKind string, uids []string, role int32) {
	body, err := jsonutil.JsonMarshal(&memberUpdateBody{GID: gid, Action: action, Members: uids})
	if err != nil {
		log.ZError(ctx, "member update body marshal failed", err, "gid", gid)
		return
	}
	mid, err := s.db.EmitSysMsg(ctx, gid, constant.SysMsgMemberUpdate, string(body))
	if err != nil {
		log.ZWarn(ctx, "member update sys msg failed", err, "gid", gid, "action", action)
	}
	if _, err := s.bus.PublishGroupEvent(ctx, &groupEvent{Kind: constant.MsgGroupMemberUpdate, GID: gid, Mid: mid}); err != nil {
		log.ZWarn(ctx, "group event publish failed", err, "gid", gid)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userPublishConcurrency)
	for _, uid := range uids {
		uid := uid
		g.Go(func() error {
			if _, err := s.bus.PublishToUser(gctx, uid, &userEvent{Kind: userKind, GID: gid, UID: uid, Role: role}); err != nil {
				log.ZWarn(gctx, "user event publish failed", err, "gid", gid, "uid", uid, "kind", userKind)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// notifyInfoUpdate announces a group-attribute change.
func (s *Server) notifyInfoUpdate(ctx context.Context, gid int64) {
	body, err := jsonutil.JsonMarshal(&memberUpdateBody{GID: gid, Action: constant.MsgGroupInfoUpdate})
	if err != nil {
		log.ZError(ctx, "info update body marshal failed", err, "gid", gid)
		return
	}
	mid, err := s.db.EmitSysMsg(ctx, gid, constant.SysMsgInfoUpdate, string(body))
	if err != nil {
		log.ZWarn(ctx, "info update sys msg failed", err, "gid", gid)
	}
	if _, err := s.bus.PublishGroupEvent(ctx, &groupEvent{Kind: constant.MsgGroupInfoUpdate, GID: gid, Mid: mid}); err != nil {
		log.ZWarn(ctx, "group event publish failed", err, "gid", gid)
	}
}

// notifyJoinReview pings the owner that a join request awaits review.
func (s *Server) notifyJoinReview(ctx context.Context, gid int64, ownerUID, applicant string) {
	if _, err := s.bus.PublishToUser(ctx, ownerUID, &userEvent{Kind: constant.MsgGroupJoinReview, GID: gid, UID: applicant}); err != nil {
		log.ZWarn(ctx, "join review publish failed", err, "gid", gid, "owner", ownerUID)
	}
}

// evaluateKeys asks the coordinator to re-run the rotation policy after a
// membership-count change. Only V3 groups rotate; errors are logged because
// the membership change is already committed.
func (s *Server) evaluateKeys(ctx context.Context, uid string, group *model.Group) {
	if group.Version != constant.GroupV3 {
		return
	}
	if err := s.coordinator.Evaluate(ctx, uid, group.GID); err != nil {
		log.ZWarn(ctx, "key rotation evaluate failed", err, "gid", group.GID)
	}
}
