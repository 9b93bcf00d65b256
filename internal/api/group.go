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

package api

import (
	"github.com/sealmsg/group-server/internal/group"
	"github.com/sealmsg/group-server/internal/keyepoch"
	"github.com/sealmsg/group-server/pkg/apistruct"
	"github.com/sealmsg/group-server/pkg/common/constant"

	"github.com/gin-gonic/gin"
	"github.com/openimsdk/tools/errs"
)

// GroupApi binds the membership server and key coordinator to gin handlers.
type GroupApi struct {
	group *group.Server
	keys  *keyepoch.Coordinator
}

func NewGroupApi(group *group.Server, keys *keyepoch.Coordinator) *GroupApi {
	return &GroupApi{group: group, keys: keys}
}

func (a *GroupApi) CreateGroup(c *gin.Context) {
	var req apistruct.CreateGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	resp, err := a.group.CreateGroup(c.Request.Context(), opUserID(c), &req)
	if err != nil {
		ginError(c, err)
		return
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) UpdateGroup(c *gin.Context) {
	var req apistruct.UpdateGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.UpdateGroup(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) Invite(c *gin.Context) {
	var req apistruct.InviteGroupMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.Invite(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) JoinGroupByCode(c *gin.Context) {
	var req apistruct.JoinGroupByCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	resp, err := a.group.JoinByQrCode(c.Request.Context(), opUserID(c), &req)
	if err != nil {
		ginError(c, err)
		return
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) AddMe(c *gin.Context) {
	var req apistruct.AddMeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.AddMe(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) ReviewJoinRequest(c *gin.Context) {
	var req apistruct.ReviewJoinRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.Review(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) Kick(c *gin.Context) {
	var req apistruct.KickGroupMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.Kick(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) Leave(c *gin.Context) {
	var req apistruct.LeaveGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.Leave(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) UpdateRole(c *gin.Context) {
	var req apistruct.UpdateRoleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.UpdateRole(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) Mute(c *gin.Context) {
	var req apistruct.MuteMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.Mute(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) Unmute(c *gin.Context) {
	var req apistruct.MuteMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.Unmute(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) UpdateMyInfo(c *gin.Context) {
	var req apistruct.UpdateMyInfoReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if err := a.group.UpdateMyInfo(c.Request.Context(), opUserID(c), &req); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) GetMembers(c *gin.Context) {
	var req apistruct.GetMembersReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	resp, err := a.group.GetMembers(c.Request.Context(), opUserID(c), &req)
	if err != nil {
		ginError(c, err)
		return
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) PageMembers(c *gin.Context) {
	var req apistruct.PageMembersReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	resp, err := a.group.PageMembers(c.Request.Context(), opUserID(c), &req)
	if err != nil {
		ginError(c, err)
		return
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) SysMsgs(c *gin.Context) {
	var req apistruct.SysMsgsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	resp, err := a.group.SysMsgs(c.Request.Context(), opUserID(c), &req)
	if err != nil {
		ginError(c, err)
		return
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) GetGroupKeys(c *gin.Context) {
	var req apistruct.GetGroupKeysReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	records, err := a.keys.FetchByVersions(c.Request.Context(), opUserID(c), deviceID(c), req.GID, req.Versions)
	if err != nil {
		ginError(c, err)
		return
	}
	resp := &apistruct.GetGroupKeysResp{Keys: make([]apistruct.GroupKeyEntry, 0, len(records))}
	for _, r := range records {
		resp.Keys = append(resp.Keys, apistruct.GroupKeyEntry{
			GID:            r.GID,
			Version:        r.Version,
			GroupKeysMode:  r.Mode,
			EncryptVersion: r.EncryptVersion,
			Keys:           r.Keys,
		})
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) GetLatestGroupKeys(c *gin.Context) {
	var req apistruct.GetLatestGroupKeysReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	latest, err := a.keys.FetchLatest(c.Request.Context(), opUserID(c), deviceID(c), req.GIDs)
	if err != nil {
		ginError(c, err)
		return
	}
	resp := &apistruct.GetLatestGroupKeysResp{Keys: make([]apistruct.GroupKeyEntry, 0, len(latest))}
	for gid, r := range latest {
		entry := apistruct.GroupKeyEntry{GID: gid, Version: -1}
		if r != nil {
			entry.Version = r.Version
			entry.GroupKeysMode = r.Mode
			entry.EncryptVersion = r.EncryptVersion
			entry.Keys = r.Keys
		}
		resp.Keys = append(resp.Keys, entry)
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) FireGroupKeysUpdate(c *gin.Context) {
	var req apistruct.FireGroupKeysUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	if len(req.GIDs) == 0 || len(req.GIDs) > constant.MaxFireGids {
		ginError(c, errs.ErrArgs.WrapMsg("bad gids count", "count", len(req.GIDs)))
		return
	}
	if err := a.keys.Fire(c.Request.Context(), opUserID(c), req.GIDs); err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) UploadGroupKeys(c *gin.Context) {
	var req apistruct.UploadGroupKeysReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	err := a.keys.Upload(c.Request.Context(), opUserID(c), req.GID, req.Version, req.GroupKeysMode, req.EncryptVersion, req.GroupKeys)
	if err != nil {
		ginError(c, err)
		return
	}
	ginNoContent(c)
}

func (a *GroupApi) PrepareKeyUpdate(c *gin.Context) {
	var req apistruct.PrepareKeyUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	bundles, err := a.keys.Prepare(c.Request.Context(), opUserID(c), req.GID, req.Version, req.Mode)
	if err != nil {
		ginError(c, err)
		return
	}
	resp := &apistruct.PrepareKeyUpdateResp{Keys: make([]apistruct.KeyBundleEntry, 0, len(bundles))}
	for _, b := range bundles {
		resp.Keys = append(resp.Keys, apistruct.KeyBundleEntry{
			UID:          b.UID,
			DeviceID:     b.DeviceID,
			IdentityKey:  b.IdentityKey,
			SignedPreKey: b.SignedPreKey,
			OneTimeKey:   b.OneTimeKey,
		})
	}
	ginSuccess(c, resp)
}

func (a *GroupApi) GetDhKeys(c *gin.Context) {
	var req apistruct.GetDhKeysReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginBadRequest(c, err)
		return
	}
	resp, err := a.group.DhKeys(c.Request.Context(), opUserID(c), &req)
	if err != nil {
		ginError(c, err)
		return
	}
	ginSuccess(c, resp)
}
