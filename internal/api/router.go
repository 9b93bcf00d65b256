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
	"time"

	"github.com/sealmsg/group-server/internal/group"
	"github.com/sealmsg/group-server/internal/keyepoch"
	"github.com/sealmsg/group-server/pkg/common/config"
	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/prommetrics"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the HTTP surface.
func NewRouter(groupServer *group.Server, keys *keyepoch.Coordinator, cfg *config.API) *gin.Engine {
	if !cfg.GinDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	timeout := constant.RequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithDecompressFn(gzip.DefaultDecompressHandle)))

	if cfg.Prometheus {
		r.GET("/metrics", gin.WrapH(prommetrics.Handler()))
	}

	a := NewGroupApi(groupServer, keys)
	v3 := r.Group("/v3/group",
		identityContext(),
		bodyLimit(constant.MaxRequestBody),
		requestTimeout(timeout),
	)
	{
		v3.PUT("/create", a.CreateGroup)
		v3.PUT("/update", a.UpdateGroup)
		v3.PUT("/invite", a.Invite)
		v3.PUT("/join_group_by_code", a.JoinGroupByCode)
		v3.PUT("/add_me", a.AddMe)
		v3.PUT("/review_join_request", a.ReviewJoinRequest)
		v3.PUT("/kick", a.Kick)
		v3.PUT("/leave", a.Leave)
		v3.PUT("/update_role", a.UpdateRole)
		v3.PUT("/mute", a.Mute)
		v3.PUT("/unmute", a.Unmute)
		v3.PUT("/update_my_info", a.UpdateMyInfo)
		v3.POST("/members", a.GetMembers)
		v3.POST("/members_page", a.PageMembers)
		v3.POST("/sys_msgs", a.SysMsgs)
		v3.POST("/group_keys", a.GetGroupKeys)
		v3.POST("/latest_group_keys", a.GetLatestGroupKeys)
		v3.POST("/fire_group_keys_update", a.FireGroupKeysUpdate)
		v3.PUT("/group_keys_update", a.UploadGroupKeys)
		v3.POST("/prepare_key_update", a.PrepareKeyUpdate)
		v3.POST("/dh_keys", a.GetDhKeys)
	}
	return r
}
