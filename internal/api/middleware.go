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
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sealmsg/group-server/pkg/common/constant"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openimsdk/tools/mcontext"
)

// Identity headers injected by the auth gateway in front of this service.
const (
	headerUID         = "x-auth-uid"
	headerDeviceID    = "x-auth-device-id"
	headerOperationID = "x-operation-id"
)

// identityContext lifts the gateway identity headers into the request
// context. Requests without a uid never reach a handler.
func identityContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(headerUID)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, &apiResponse{
				ErrorCode: http.StatusUnauthorized,
				ErrorMsg:  "missing identity",
			})
			return
		}
		opID := c.GetHeader(headerOperationID)
		if opID == "" {
			opID = uuid.NewString()
		}
		ctx := mcontext.SetOperationID(c.Request.Context(), opID)
		ctx = mcontext.WithOpUserIDContext(ctx, uid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// opUserID returns the authenticated caller uid.
func opUserID(c *gin.Context) string {
	return mcontext.GetOpUserID(c.Request.Context())
}

// deviceID returns the caller's device slot, defaulting to the master slot.
func deviceID(c *gin.Context) int32 {
	raw := c.GetHeader(headerDeviceID)
	if raw == "" {
		return constant.MasterDeviceID
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return constant.MasterDeviceID
	}
	return int32(id)
}

// bodyLimit caps request bodies; an oversized body fails the JSON bind with
// a 413 from MaxBytesReader.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// requestTimeout bounds each request; handlers abort at their next I/O once
// the deadline passes.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
