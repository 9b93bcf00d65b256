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
	"errors"
	"net/http"

	"github.com/sealmsg/group-server/pkg/common/prommetrics"
	"github.com/sealmsg/group-server/pkg/common/servererrs"

	"github.com/gin-gonic/gin"
	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
)

// apiResponse is the wire envelope of every endpoint.
type apiResponse struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Result    any    `json:"result,omitempty"`
}

func ginSuccess(c *gin.Context, result any) {
	prommetrics.RecordAPIRequest(c.FullPath(), http.StatusOK)
	c.JSON(http.StatusOK, &apiResponse{Result: result})
}

func ginNoContent(c *gin.Context) {
	prommetrics.RecordAPIRequest(c.FullPath(), http.StatusNoContent)
	c.Status(http.StatusNoContent)
}

func ginError(c *gin.Context, err error) {
	code := servererrs.ServerInternalErr
	msg := "internal error"
	if codeErr, ok := errs.Unwrap(err).(errs.CodeError); ok {
		code = codeErr.Code()
		msg = codeErr.Msg()
	} else {
		log.ZError(c.Request.Context(), "unclassified api error", err, "path", c.FullPath())
	}
	status := servererrs.HTTPStatus(code)
	prommetrics.RecordAPIRequest(c.FullPath(), status)
	c.JSON(status, &apiResponse{ErrorCode: code, ErrorMsg: msg})
}

func ginBadRequest(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		ginError(c, servererrs.ErrPayloadTooLarge.WrapMsg("request body too large", "limit", tooLarge.Limit))
		return
	}
	ginError(c, errs.ErrArgs.WrapMsg(err.Error()))
}
