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

// Package group implements the membership state machine of the control
// plane: group lifecycle, invites, qr joins, owner review, kicks, leaves and
// role changes, plus the notifications every transition emits.
package group

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/binary"

	"github.com/sealmsg/group-server/internal/keyepoch"
	"github.com/sealmsg/group-server/pkg/common/config"
	"github.com/sealmsg/group-server/pkg/common/storage/controller"
	"github.com/sealmsg/group-server/pkg/common/storage/model"
	"github.com/sealmsg/group-server/pkg/mqbus"
	"github.com/sealmsg/group-server/pkg/ratelimit"

	"github.com/openimsdk/tools/errs"
)

// AccountService is the account-plane collaborator: public keys for
// signature checks, contact-bloom mutuality, and device key bundles. It
// satisfies keyepoch.BundleLoader.
type AccountService interface {
	GetPublicKey(ctx context.Context, uid string) (ed25519.PublicKey, error)
	// IsMutualContact reports whether a and b appear in each other's contact
	// bloom filter.
	IsMutualContact(ctx context.Context, a, b string) (bool, error)
	LoadBundles(ctx context.Context, uids []string) ([]*model.KeyBundle, error)
}

// Server drives the membership transitions. It owns no mutable state of its
// own; everything lives in the stores behind GroupDatabase.
type Server struct {
	db          controller.GroupDatabase
	keys        controller.KeyDatabase
	coordinator *keyepoch.Coordinator
	bus         mqbus.Bus
	limiters    *ratelimit.Registry
	accounts    AccountService
	privileged  map[string]struct{}
}

func NewServer(
	db controller.GroupDatabase,
	keys controller.KeyDatabase,
	coordinator *keyepoch.Coordinator,
	bus mqbus.Bus,
	limiters *ratelimit.Registry,
	accounts AccountService,
	share config.Share,
) *Server {
	privileged := make(map[string]struct{}, len(share.PrivilegedUserIDs))
	for _, uid := range share.PrivilegedUserIDs {
		privileged[uid] = struct{}{}
	}
	return &Server{
		db:          db,
		keys:        keys,
		coordinator: coordinator,
		bus:         bus,
		limiters:    limiters,
		accounts:    accounts,
		privileged:  privileged,
	}
}

// isPrivileged reports whether uid is on the configured administrative
// allow-list that bypasses role and mutuality checks.
func (s *Server) isPrivileged(uid string) bool {
	_, ok := s.privileged[uid]
	return ok
}

// genGID draws a random positive 63-bit group id.
func genGID() (int64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, errs.Wrap(err)
	}
	gid := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
	if gid == 0 {
		gid = 1
	}
	return gid, nil
}
