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

// Error codes surfaced by the group server. The 4xx-style codes double as the
// HTTP status of the response; everything else maps onto 400/500.
const (
	NoError            = 0
	ArgsError          = 400
	NoPermissionError  = 403
	RecordNotFoundErr  = 404
	ConflictError      = 409
	PayloadTooLarge    = 413
	LimiterRejectedErr = 460
	UpgradeRequiredErr = 461
	ServerInternalErr  = 500

	GroupNotFoundError       = 1201
	GroupMemberNotFoundError = 1202
	GroupIDExistedError      = 1203
	NotOwnerError            = 1204
	PendingNotFoundError     = 1205
	QrCodeExpiredError       = 1206
	SignatureInvalidError    = 1207
	KeyVersionConflictError  = 1208
	NotInQuorumError         = 1209
	GroupVersionError        = 1210
	DuplicateMemberError     = 1211
)
