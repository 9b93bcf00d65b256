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

package servererrs

import "github.com/openimsdk/tools/errs"

var (
	ErrGroupNotFound       = errs.NewCodeError(GroupNotFoundError, "GroupNotFoundError")
	ErrGroupMemberNotFound = errs.NewCodeError(GroupMemberNotFoundError, "GroupMemberNotFoundError")
	ErrGroupIDExisted      = errs.NewCodeError(GroupIDExistedError, "GroupIDExistedError")
	ErrNotOwner            = errs.NewCodeError(NotOwnerError, "NotOwnerError")
	ErrPendingNotFound     = errs.NewCodeError(PendingNotFoundError, "PendingNotFoundError")
	ErrQrCodeExpired       = errs.NewCodeError(QrCodeExpiredError, "QrCodeExpiredError")
	ErrSignatureInvalid    = errs.NewCodeError(SignatureInvalidError, "SignatureInvalidError")
	ErrKeyVersionConflict  = errs.NewCodeError(KeyVersionConflictError, "KeyVersionConflictError")
	ErrNotInQuorum         = errs.NewCodeError(NotInQuorumError, "NotInQuorumError")
	ErrGroupVersion        = errs.NewCodeError(GroupVersionError, "GroupVersionError")
	ErrDuplicateMember     = errs.NewCodeError(DuplicateMemberError, "DuplicateMemberError")

	ErrNotInGroup      = errs.NewCodeError(NoPermissionError, "NotInGroup")
	ErrLimiterRejected = errs.NewCodeError(LimiterRejectedErr, "LimiterRejected")
	ErrUpgradeRequired = errs.NewCodeError(UpgradeRequiredErr, "UpgradeRequired")
	ErrConflict        = errs.NewCodeError(ConflictError, "Conflict")
	ErrPayloadTooLarge = errs.NewCodeError(PayloadTooLarge, "PayloadTooLarge")
)

// HTTPStatus maps a server error code onto the HTTP status carried on the
// wire. Domain codes (12xx) ride on the status of their closest generic kind.
func HTTPStatus(code int) int {
	switch code {
	case ArgsError, DuplicateMemberError, SignatureInvalidError:
		return 400
	case NoPermissionError, NotOwnerError, NotInQuorumError:
		return 403
	case RecordNotFoundErr, GroupNotFoundError, GroupMemberNotFoundError, PendingNotFoundError, QrCodeExpiredError:
		return 404
	case ConflictError, KeyVersionConflictError, GroupIDExistedError:
		return 409
	case PayloadTooLarge:
		return 413
	case LimiterRejectedErr:
		return 460
	case UpgradeRequiredErr, GroupVersionError:
		return 461
	default:
		return 500
	}
}
