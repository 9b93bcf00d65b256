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

// Package accountid derives and validates user IDs. A UID is the base58check
// encoding (version byte 0) of hash160 over the account public key with the
// DJB type prefix stripped.
package accountid

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/openimsdk/tools/errs"
	"golang.org/x/crypto/ripemd160"
)

// djbPrefix is the curve type byte clients prepend to raw public keys.
const djbPrefix byte = 0x05

const uidVersion byte = 0

// hash160 is ripemd160 over sha256, the same construction bitcoin addresses
// use.
func hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// FromPublicKey derives the UID owned by pub.
func FromPublicKey(pub ed25519.PublicKey) string {
	raw := []byte(pub)
	if len(raw) > 0 && raw[0] == djbPrefix {
		raw = raw[1:]
	}
	return base58.CheckEncode(hash160(raw), uidVersion)
}

// Validate reports whether uid is a well-formed base58check id with the
// expected version byte.
func Validate(uid string) error {
	payload, version, err := base58.CheckDecode(uid)
	if err != nil {
		return errs.WrapMsg(err, "bad uid encoding", "uid", uid)
	}
	if version != uidVersion {
		return errs.New("bad uid version", "uid", uid, "version", version).Wrap()
	}
	if len(payload) != ripemd160.Size {
		return errs.New("bad uid length", "uid", uid, "len", len(payload)).Wrap()
	}
	return nil
}

// Owns reports whether uid is the id derived from pub.
func Owns(uid string, pub ed25519.PublicKey) bool {
	return uid == FromPublicKey(pub)
}
