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
	"crypto/ed25519"
	"encoding/base64"

	"github.com/sealmsg/group-server/pkg/common/servererrs"
)

// verifySignature checks a base64 Ed25519 signature of message under pub.
func verifySignature(pub ed25519.PublicKey, message []byte, sigB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return servererrs.ErrSignatureInvalid.WrapMsg("signature is not base64")
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, message, sig) {
		return servererrs.ErrSignatureInvalid.WrapMsg("signature verification failed")
	}
	return nil
}

// verifyShareChain checks the group share-invite chain under the owner's
// public key: shareSignature signs decode(qrCodeSetting), and
// shareAndOwnerConfirmSignature signs the same bytes with the ownerConfirm
// byte appended.
func verifyShareChain(pub ed25519.PublicKey, qrCodeSetting, shareSig, shareOwnerSig string, ownerConfirm int32) error {
	if qrCodeSetting == "" || shareSig == "" {
		return servererrs.ErrSignatureInvalid.WrapMsg("empty share settings")
	}
	setting, err := base64.StdEncoding.DecodeString(qrCodeSetting)
	if err != nil {
		return servererrs.ErrSignatureInvalid.WrapMsg("qrCodeSetting is not base64")
	}
	if err := verifySignature(pub, setting, shareSig); err != nil {
		return err
	}
	confirmed := append(append([]byte{}, setting...), byte(ownerConfirm))
	return verifySignature(pub, confirmed, shareOwnerSig)
}

// verifyShareChainByOwner resolves the group owner's public key and runs the
// chain check against the group's stored share fields.
func (s *Server) verifyShareChainByOwner(ctx context.Context, ownerUID, qrCodeSetting, shareSig, shareOwnerSig string, ownerConfirm int32) error {
	pub, err := s.accounts.GetPublicKey(ctx, ownerUID)
	if err != nil {
		return err
	}
	return verifyShareChain(pub, qrCodeSetting, shareSig, shareOwnerSig, ownerConfirm)
}
