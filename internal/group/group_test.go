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
	crand "crypto/rand"
	"encoding/base64"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sealmsg/group-server/internal/keyepoch"
	"github.com/sealmsg/group-server/pkg/apistruct"
	"github.com/sealmsg/group-server/pkg/common/config"
	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/servererrs"
	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	"github.com/sealmsg/group-server/pkg/common/storage/model"
	"github.com/sealmsg/group-server/pkg/mqbus"
	"github.com/sealmsg/group-server/pkg/ratelimit"

	"github.com/openimsdk/tools/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKey struct {
	gid int64
	uid string
}

// memStore is an in-memory GroupDatabase for FSM tests.
type memStore struct {
	mu        sync.Mutex
	groups    map[int64]*model.Group
	members   map[memKey]*model.GroupMember
	pendings  map[memKey]*model.PendingMember
	qrPending map[memKey]*model.QrCodePendingMember
	sysMsgs   []*model.GroupSysMsg
}

func newMemStore() *memStore {
	return &memStore{
		groups:    map[int64]*model.Group{},
		members:   map[memKey]*model.GroupMember{},
		pendings:  map[memKey]*model.PendingMember{},
		qrPending: map[memKey]*model.QrCodePendingMember{},
	}
}

func (s *memStore) CreateGroup(ctx context.Context, group *model.Group, members []*model.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.GID]; ok {
		return servererrs.ErrGroupIDExisted.Wrap()
	}
	s.groups[group.GID] = group
	for _, m := range members {
		s.members[memKey{m.GID, m.UID}] = m
	}
	return nil
}

func (s *memStore) TakeGroup(ctx context.Context, gid int64) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[gid]
	if !ok {
		return nil, servererrs.ErrGroupNotFound.Wrap()
	}
	return g, nil
}

func (s *memStore) FindGroup(ctx context.Context, gids []int64) ([]*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Group
	for _, gid := range gids {
		if g, ok := s.groups[gid]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memStore) UpdateGroup(ctx context.Context, gid int64, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[gid]
	if !ok {
		return servererrs.ErrGroupNotFound.Wrap()
	}
	if v, ok := data["qr_code_setting"]; ok {
		g.QrCodeSetting = v.(string)
	}
	if v, ok := data["name"]; ok {
		g.Name = v.(string)
	}
	if v, ok := data["owner_confirm"]; ok {
		g.OwnerConfirm = v.(int32)
	}
	return nil
}

func (s *memStore) DeleteGroup(ctx context.Context, gid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, gid)
	for k := range s.members {
		if k.gid == gid {
			delete(s.members, k)
		}
	}
	return nil
}

func (s *memStore) CreateMembers(ctx context.Context, members []*model.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		key := memKey{m.GID, m.UID}
		if _, ok := s.members[key]; ok {
			return servererrs.ErrDuplicateMember.Wrap()
		}
		s.members[key] = m
	}
	return nil
}

func (s *memStore) TakeMember(ctx context.Context, gid int64, uid string) (*model.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memKey{gid, uid}]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("member not found")
	}
	return m, nil
}

func (s *memStore) FindMembers(ctx context.Context, gid int64, uids []string) ([]*model.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.GroupMember
	for _, uid := range uids {
		if m, ok := s.members[memKey{gid, uid}]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) FindAllMembers(ctx context.Context, gid int64) ([]*model.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.GroupMember
	for k, m := range s.members {
		if k.gid == gid {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *memStore) FindMemberUIDs(ctx context.Context, gid int64) ([]string, error) {
	members, _ := s.FindAllMembers(ctx, gid)
	uids := make([]string, 0, len(members))
	for _, m := range members {
		uids = append(uids, m.UID)
	}
	return uids, nil
}

func (s *memStore) FindMembersByRole(ctx context.Context, gid int64, roles []int32, startUid string, count int) ([]*model.GroupMember, error) {
	return s.FindAllMembers(ctx, gid)
}

func (s *memStore) FindMembersOrdered(ctx context.Context, gid int64, roles []int32, startUid string, createTime int64, count int) ([]*model.GroupMember, error) {
	all, _ := s.FindAllMembers(ctx, gid)
	roleSet := map[int32]struct{}{}
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}
	var filtered []*model.GroupMember
	for _, m := range all {
		if len(roleSet) > 0 {
			if _, ok := roleSet[m.Role]; !ok {
				continue
			}
		}
		filtered = append(filtered, m)
	}
	sort.Slice(filtered, func(i, j int) bool {
		ti, tj := filtered[i].CreateTime.UnixMilli(), filtered[j].CreateTime.UnixMilli()
		if ti != tj {
			return ti < tj
		}
		return filtered[i].UID < filtered[j].UID
	})
	var out []*model.GroupMember
	for _, m := range filtered {
		t := m.CreateTime.UnixMilli()
		if t < createTime || (t == createTime && m.UID <= startUid) {
			continue
		}
		out = append(out, m)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (s *memStore) FindSysMsgsAfter(ctx context.Context, gid int64, mid int64, count int) ([]*model.GroupSysMsg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.GroupSysMsg
	for _, m := range s.sysMsgs {
		if m.GID == gid && m.Mid > mid {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mid < out[j].Mid })
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (s *memStore) PruneSysMsgs(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sysMsgs[:0]
	for _, m := range s.sysMsgs {
		if !m.CreateTime.Before(before) {
			kept = append(kept, m)
		}
	}
	s.sysMsgs = kept
	return nil
}

func (s *memStore) TakeOwner(ctx context.Context, gid int64) (*model.GroupMember, error) {
	members, _ := s.FindAllMembers(ctx, gid)
	for _, m := range members {
		if m.Role == constant.RoleOwner {
			return m, nil
		}
	}
	return nil, errs.ErrRecordNotFound.WrapMsg("no owner")
}

func (s *memStore) UpdateMember(ctx context.Context, gid int64, uid string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memKey{gid, uid}]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("member not found")
	}
	if v, ok := data["role"]; ok {
		m.Role = v.(int32)
	}
	if v, ok := data["status"]; ok {
		m.Status = v.(int64)
	}
	if v, ok := data["group_nickname"]; ok {
		m.GroupNickname = v.(string)
	}
	return nil
}

func (s *memStore) UpdateMemberIfEmpty(ctx context.Context, gid int64, uid string, data map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memKey{gid, uid}]
	if !ok {
		return false, errs.ErrRecordNotFound.WrapMsg("member not found")
	}
	if v, ok := data["group_info_secret"]; ok && m.GroupInfoSecret == "" {
		m.GroupInfoSecret = v.(string)
		return true, nil
	}
	return false, nil
}

func (s *memStore) DeleteMembers(ctx context.Context, gid int64, uids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		delete(s.members, memKey{gid, uid})
	}
	return nil
}

func (s *memStore) CountMembers(ctx context.Context, gid int64) (*model.MemberCount, error) {
	members, _ := s.FindAllMembers(ctx, gid)
	count := &model.MemberCount{}
	for _, m := range members {
		if m.Role == constant.RoleSubscriber {
			count.SubscriberCnt++
			continue
		}
		count.MemberCnt++
		if m.Role == constant.RoleOwner {
			count.Owner = m.UID
		}
	}
	return count, nil
}

func (s *memStore) TransferOwner(ctx context.Context, gid int64, oldOwner, newOwner string, removeOld bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.members[memKey{gid, newOwner}]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("next owner missing")
	}
	next.Role = constant.RoleOwner
	if removeOld {
		delete(s.members, memKey{gid, oldOwner})
		return nil
	}
	if old, ok := s.members[memKey{gid, oldOwner}]; ok {
		old.Role = constant.RoleMember
	}
	return nil
}

func (s *memStore) CreatePending(ctx context.Context, pending *model.PendingMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendings[memKey{pending.GID, pending.UID}] = pending
	return nil
}

func (s *memStore) TakePending(ctx context.Context, gid int64, uid string) (*model.PendingMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pendings[memKey{gid, uid}]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("pending not found")
	}
	return p, nil
}

func (s *memStore) FindPendings(ctx context.Context, gid int64) ([]*model.PendingMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PendingMember
	for k, p := range s.pendings {
		if k.gid == gid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) DeletePendings(ctx context.Context, gid int64, uids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		delete(s.pendings, memKey{gid, uid})
	}
	return nil
}

func (s *memStore) DeleteAllPendings(ctx context.Context, gid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.pendings {
		if k.gid == gid {
			delete(s.pendings, k)
		}
	}
	return nil
}

func (s *memStore) SetQrPending(ctx context.Context, pending *model.QrCodePendingMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qrPending[memKey{pending.GID, pending.UID}] = pending
	return nil
}

func (s *memStore) TakeQrPending(ctx context.Context, gid int64, uid string) (*model.QrCodePendingMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.qrPending[memKey{gid, uid}]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("qr pending not found")
	}
	return p, nil
}

func (s *memStore) DeleteQrPending(ctx context.Context, gid int64, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.qrPending, memKey{gid, uid})
	return nil
}

func (s *memStore) EmitSysMsg(ctx context.Context, gid int64, kind string, body string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[gid]
	if !ok {
		return 0, servererrs.ErrGroupNotFound.Wrap()
	}
	g.LastMid++
	s.sysMsgs = append(s.sysMsgs, &model.GroupSysMsg{GID: gid, Mid: g.LastMid, Kind: kind, Body: body, CreateTime: time.Now()})
	return g.LastMid, nil
}

// memKeyStore is an in-memory KeyDatabase.
type memKeyStore struct {
	mu      sync.Mutex
	records map[int64]map[int64]*model.KeyRecord
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{records: map[int64]map[int64]*model.KeyRecord{}}
}

func (s *memKeyStore) Insert(ctx context.Context, record *model.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVersion, ok := s.records[record.GID]
	if !ok {
		byVersion = map[int64]*model.KeyRecord{}
		s.records[record.GID] = byVersion
	}
	if _, exists := byVersion[record.Version]; exists {
		return servererrs.ErrKeyVersionConflict.Wrap()
	}
	byVersion[record.Version] = record
	return nil
}

func (s *memKeyStore) Find(ctx context.Context, gid int64, versions []int64) ([]*model.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.KeyRecord
	for _, v := range versions {
		if r, ok := s.records[gid][v]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memKeyStore) Latest(ctx context.Context, gid int64) (*model.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.KeyRecord
	for _, r := range s.records[gid] {
		if latest == nil || r.Version > latest.Version {
			latest = r
		}
	}
	return latest, nil
}

func (s *memKeyStore) LatestBatch(ctx context.Context, gids []int64) (map[int64]*model.KeyRecord, error) {
	out := map[int64]*model.KeyRecord{}
	for _, gid := range gids {
		if r, _ := s.Latest(ctx, gid); r != nil {
			out[gid] = r
		}
	}
	return out, nil
}

func (s *memKeyStore) LatestModeAndVersion(ctx context.Context, gid int64) (int32, int64, error) {
	r, _ := s.Latest(ctx, gid)
	if r == nil {
		return constant.KeyModeUnknown, -1, nil
	}
	return r.Mode, r.Version, nil
}

func (s *memKeyStore) LatestMode(ctx context.Context, gid int64) int32 {
	mode, _, _ := s.LatestModeAndVersion(ctx, gid)
	return mode
}

func (s *memKeyStore) Clear(ctx context.Context, gid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, gid)
	return nil
}

func (s *memKeyStore) GC(ctx context.Context, keepWindow int64) error { return nil }

// capturingBus records every publish.
type capturingBus struct {
	mu     sync.Mutex
	events []any
}

func (b *capturingBus) Publish(ctx context.Context, channel string, payload any) (mqbus.Sent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload)
	return mqbus.Sent{Subscribers: 1}, nil
}

func (b *capturingBus) PublishToUser(ctx context.Context, uid string, payload any) (mqbus.Sent, error) {
	return b.Publish(ctx, constant.UserChannelPrefix+uid, payload)
}

func (b *capturingBus) PublishGroupEvent(ctx context.Context, payload any) (mqbus.Sent, error) {
	return b.Publish(ctx, constant.GroupEventChannel, payload)
}

func (b *capturingBus) AnnouncePresence(ctx context.Context, addr string) (mqbus.Sent, error) {
	return b.Publish(ctx, constant.ServerChannelPrefix+addr, addr)
}

func (b *capturingBus) keyEvents(kind string) []*keyepoch.GroupKeyEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*keyepoch.GroupKeyEvent
	for _, e := range b.events {
		if ke, ok := e.(*keyepoch.GroupKeyEvent); ok && ke.Kind == kind {
			out = append(out, ke)
		}
	}
	return out
}

func (b *capturingBus) userEvents(kind string) []*userEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*userEvent
	for _, e := range b.events {
		if ue, ok := e.(*userEvent); ok && ue.Kind == kind {
			out = append(out, ue)
		}
	}
	return out
}

// fakeAccounts serves generated ed25519 identities.
type fakeAccounts struct {
	mu     sync.Mutex
	keys   map[string]ed25519.PrivateKey
	mutual bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{keys: map[string]ed25519.PrivateKey{}, mutual: true}
}

func (f *fakeAccounts) key(t *testing.T, uid string) ed25519.PrivateKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	if priv, ok := f.keys[uid]; ok {
		return priv
	}
	_, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)
	f.keys[uid] = priv
	return priv
}

func (f *fakeAccounts) GetPublicKey(ctx context.Context, uid string) (ed25519.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	priv, ok := f.keys[uid]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("unknown account")
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func (f *fakeAccounts) IsMutualContact(ctx context.Context, a, b string) (bool, error) {
	return f.mutual, nil
}

func (f *fakeAccounts) LoadBundles(ctx context.Context, uids []string) ([]*model.KeyBundle, error) {
	out := make([]*model.KeyBundle, 0, len(uids))
	for _, uid := range uids {
		out = append(out, &model.KeyBundle{UID: uid, DeviceID: constant.MasterDeviceID, IdentityKey: "ik-" + uid})
	}
	return out, nil
}

type openLimiter struct{}

func (openLimiter) Name() string                                     { return "open" }
func (openLimiter) Acquire(context.Context, string) error            { return nil }
func (openLimiter) Limited(context.Context, string) (bool, error)    { return false, nil }
func (openLimiter) Update(int64, int64)                              {}

type allOnline struct {
	store *memStore
}

func (a *allOnline) SetDeviceOnline(ctx context.Context, addr cache.DeviceAddress) error { return nil }

func (a *allOnline) SetDeviceOffline(ctx context.Context, uid string, deviceID int32) error {
	return nil
}

func (a *allOnline) GetOnlineDevices(ctx context.Context, uid string) ([]cache.DeviceAddress, error) {
	return nil, nil
}

func (a *allOnline) GetOnlineMasters(ctx context.Context, uids []string) ([]cache.DeviceAddress, error) {
	out := make([]cache.DeviceAddress, 0, len(uids))
	for _, uid := range uids {
		out = append(out, cache.DeviceAddress{UID: uid, DeviceID: constant.MasterDeviceID, Addr: "gw1:9090"})
	}
	return out, nil
}

type testEnv struct {
	server   *Server
	store    *memStore
	keys     *memKeyStore
	bus      *capturingBus
	accounts *fakeAccounts
	coord    *keyepoch.Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	store := newMemStore()
	keys := newMemKeyStore()
	bus := &capturingBus{}
	accounts := newFakeAccounts()
	selector := keyepoch.NewCandidateSelector(store, &allOnline{store: store})
	cfg := config.KeyEpoch{PowerGroupMin: 200, PowerGroupMax: 220, NormalGroupRefreshMax: 240, CandidateCount: 5}
	coord := keyepoch.NewCoordinator(store, keys, cache.NewKeyBundleCache(time.Minute), accounts, selector, bus, openLimiter{}, nil, cfg)
	limiters := &ratelimit.Registry{
		GroupCreation:   openLimiter{},
		GroupKeysUpdate: openLimiter{},
		DhKeys:          openLimiter{},
		GroupMemberJoin: openLimiter{},
	}
	server := NewServer(store, keys, coord, bus, limiters, accounts, config.Share{})
	return &testEnv{server: server, store: store, keys: keys, bus: bus, accounts: accounts, coord: coord}
}

func sign(t *testing.T, priv ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))
}

// makeShareChain builds a valid (qrCodeSetting, shareSig, shareOwnerSig)
// triple under priv.
func makeShareChain(t *testing.T, priv ed25519.PrivateKey, ownerConfirm int32) (string, string, string) {
	plain := []byte("share-settings-v1")
	setting := base64.StdEncoding.EncodeToString(plain)
	shareSig := sign(t, priv, plain)
	confirmed := append(append([]byte{}, plain...), byte(ownerConfirm))
	return setting, shareSig, sign(t, priv, confirmed)
}

func createTestGroup(t *testing.T, env *testEnv, owner string, invitees []string, ownerConfirm int32) int64 {
	priv := env.accounts.key(t, owner)
	setting, shareSig, shareOwnerSig := makeShareChain(t, priv, ownerConfirm)
	proofs := make([]string, len(invitees))
	secrets := make([]string, len(invitees))
	for i := range invitees {
		proofs[i] = "proof-" + invitees[i]
		secrets[i] = "gis-" + invitees[i]
	}
	keys := `{"keys_v0":[{"uid":"` + owner + `","device_id":1,"key":"k-` + owner + `"}],"encrypt_version":1}`
	resp, err := env.server.CreateGroup(context.Background(), owner, &apistruct.CreateGroupReq{
		Name:                          "n",
		Members:                       invitees,
		MemberProofs:                  proofs,
		MembersGroupInfoSecrets:       secrets,
		OwnerProof:                    "proof-" + owner,
		GroupKeys:                     keys,
		GroupKeysMode:                 constant.KeyModeOneForEach,
		EncryptedGroupInfoSecret:      "egis",
		EncryptedEphemeralKey:         "eek",
		QrCodeSetting:                 setting,
		ShareSignature:                shareSig,
		ShareAndOwnerConfirmSignature: shareOwnerSig,
		OwnerConfirm:                  ownerConfirm,
	})
	require.NoError(t, err)
	require.NotZero(t, resp.GID)
	return resp.GID
}

func TestCreateGroupThenFetchLatest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2", "U3"}, constant.OwnerConfirmOff)

	members, err := env.store.FindAllMembers(ctx, gid)
	require.NoError(t, err)
	assert.Len(t, members, 4)
	owner, err := env.store.TakeOwner(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "U0", owner.UID)

	latest, err := env.coord.FetchLatest(ctx, "U0", constant.MasterDeviceID, []int64{gid})
	require.NoError(t, err)
	record := latest[gid]
	require.NotNil(t, record)
	assert.Equal(t, int64(0), record.Version)
	assert.Equal(t, constant.KeyModeOneForEach, record.Mode)
	assert.Contains(t, record.Keys, `"k-U0"`)

	// every member got an enter event
	assert.Len(t, env.bus.userEvents(constant.MsgUserEnterGroup), 4)
}

func TestCreateGroupRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	priv := env.accounts.key(t, "U0")
	setting, shareSig, _ := makeShareChain(t, priv, 0)
	_, err := env.server.CreateGroup(context.Background(), "U0", &apistruct.CreateGroupReq{
		OwnerProof:                    "p",
		GroupKeys:                     "{}",
		GroupKeysMode:                 constant.KeyModeOneForEach,
		EncryptedGroupInfoSecret:      "egis",
		EncryptedEphemeralKey:         "eek",
		QrCodeSetting:                 setting,
		ShareSignature:                shareSig,
		ShareAndOwnerConfirmSignature: sign(t, priv, []byte("wrong")),
	})
	require.Error(t, err)
	assert.True(t, servererrs.ErrSignatureInvalid.Is(err))
}

func TestQrJoinOpenGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2", "U3"}, constant.OwnerConfirmOff)
	group, err := env.store.TakeGroup(ctx, gid)
	require.NoError(t, err)

	privU4 := env.accounts.key(t, "U4")
	resp, err := env.server.JoinByQrCode(ctx, "U4", &apistruct.JoinGroupByCodeReq{
		GID:       gid,
		QrCode:    group.QrCodeSetting,
		QrToken:   "token-1",
		Signature: sign(t, privU4, []byte("token-1")),
	})
	require.NoError(t, err)
	assert.Equal(t, "egis", resp.EncryptedGroupInfoSecret)
	assert.False(t, resp.Pending)

	require.NoError(t, env.server.AddMe(ctx, "U4", &apistruct.AddMeReq{GID: gid, GroupInfoSecret: "gis", Proof: "p"}))
	m, err := env.store.TakeMember(ctx, gid, "U4")
	require.NoError(t, err)
	assert.Equal(t, constant.RoleMember, m.Role)

	// five members is under the power threshold, so a ONE_FOR_EACH rotation
	// request goes out
	requests := env.bus.keyEvents(constant.MsgGroupUpdateKeysRequest)
	require.NotEmpty(t, requests)
	assert.Equal(t, constant.KeyModeOneForEach, requests[len(requests)-1].Mode)
}

func TestAddMeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOff)
	group, _ := env.store.TakeGroup(ctx, gid)

	privU4 := env.accounts.key(t, "U4")
	_, err := env.server.JoinByQrCode(ctx, "U4", &apistruct.JoinGroupByCodeReq{
		GID: gid, QrCode: group.QrCodeSetting, QrToken: "tok", Signature: sign(t, privU4, []byte("tok")),
	})
	require.NoError(t, err)
	require.NoError(t, env.server.AddMe(ctx, "U4", &apistruct.AddMeReq{GID: gid, GroupInfoSecret: "gis", Proof: "p"}))
	enterEvents := len(env.bus.userEvents(constant.MsgUserEnterGroup))

	// second addMe is a no-op with no new events
	require.NoError(t, env.server.AddMe(ctx, "U4", &apistruct.AddMeReq{GID: gid, GroupInfoSecret: "gis", Proof: "p"}))
	assert.Equal(t, enterEvents, len(env.bus.userEvents(constant.MsgUserEnterGroup)))
}

func TestAddMeWithoutPendingFails(t *testing.T) {
	env := newTestEnv(t)
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOff)
	err := env.server.AddMe(context.Background(), "U9", &apistruct.AddMeReq{GID: gid, GroupInfoSecret: "g", Proof: "p"})
	require.Error(t, err)
	assert.True(t, servererrs.ErrQrCodeExpired.Is(err))
}

func TestOwnerReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOn)
	group, _ := env.store.TakeGroup(ctx, gid)

	privU5 := env.accounts.key(t, "U5")
	resp, err := env.server.JoinByQrCode(ctx, "U5", &apistruct.JoinGroupByCodeReq{
		GID: gid, QrCode: group.QrCodeSetting, QrToken: "tok", Signature: sign(t, privU5, []byte("tok")), Comment: "hi",
	})
	require.NoError(t, err)
	assert.True(t, resp.Pending)
	_, err = env.store.TakePending(ctx, gid, "U5")
	require.NoError(t, err)

	err = env.server.Review(ctx, "U0", &apistruct.ReviewJoinRequestReq{
		GID:  gid,
		List: []apistruct.ReviewItem{{UID: "U5", Accepted: true, GroupInfoSecret: "gis", Proof: "p"}},
	})
	require.NoError(t, err)

	m, err := env.store.TakeMember(ctx, gid, "U5")
	require.NoError(t, err)
	assert.Equal(t, constant.RoleMember, m.Role)
	_, err = env.store.TakePending(ctx, gid, "U5")
	require.Error(t, err)
}

func TestReviewRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	gid := createTestGroup(t, env, "U0", []string{"U1"}, constant.OwnerConfirmOn)
	err := env.server.Review(context.Background(), "U1", &apistruct.ReviewJoinRequestReq{
		GID: gid, List: []apistruct.ReviewItem{{UID: "U5", Accepted: true}},
	})
	require.Error(t, err)
	assert.True(t, servererrs.ErrNotOwner.Is(err))
}

func TestKickIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2"}, constant.OwnerConfirmOff)

	require.NoError(t, env.server.Kick(ctx, "U0", &apistruct.KickGroupMemberReq{GID: gid, Members: []string{"U2"}}))
	_, err := env.store.TakeMember(ctx, gid, "U2")
	require.Error(t, err)
	quitEvents := len(env.bus.userEvents(constant.MsgUserQuitGroup))

	// kicking an already-removed member is OK and emits nothing
	require.NoError(t, env.server.Kick(ctx, "U0", &apistruct.KickGroupMemberReq{GID: gid, Members: []string{"U2"}}))
	assert.Equal(t, quitEvents, len(env.bus.userEvents(constant.MsgUserQuitGroup)))
}

func TestKickRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2"}, constant.OwnerConfirmOff)
	err := env.server.Kick(context.Background(), "U1", &apistruct.KickGroupMemberReq{GID: gid, Members: []string{"U2"}})
	require.Error(t, err)
	assert.True(t, servererrs.ErrNotOwner.Is(err))
}

func TestOwnerLeaveTransfersOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2"}, constant.OwnerConfirmOff)

	require.NoError(t, env.server.Leave(ctx, "U0", &apistruct.LeaveGroupReq{GID: gid, NextOwner: "U1"}))

	newOwner, err := env.store.TakeOwner(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "U1", newOwner.UID)
	_, err = env.store.TakeMember(ctx, gid, "U0")
	require.Error(t, err)

	roleEvents := env.bus.userEvents(constant.MsgUserChangeRole)
	require.Len(t, roleEvents, 1)
	assert.Equal(t, "U1", roleEvents[0].UID)
	assert.Equal(t, constant.RoleOwner, roleEvents[0].Role)
	quitEvents := env.bus.userEvents(constant.MsgUserQuitGroup)
	require.Len(t, quitEvents, 1)
	assert.Equal(t, "U0", quitEvents[0].UID)

	// rotation re-evaluated with the post-leave member count
	assert.NotEmpty(t, env.bus.keyEvents(constant.MsgGroupUpdateKeysRequest))
}

func TestOwnerLeaveWithoutSuccessorRejected(t *testing.T) {
	env := newTestEnv(t)
	gid := createTestGroup(t, env, "U0", []string{"U1"}, constant.OwnerConfirmOff)
	err := env.server.Leave(context.Background(), "U0", &apistruct.LeaveGroupReq{GID: gid})
	require.Error(t, err)
}

func TestOwnerLeaveRejectsSelfSuccessor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2"}, constant.OwnerConfirmOff)

	err := env.server.Leave(ctx, "U0", &apistruct.LeaveGroupReq{GID: gid, NextOwner: "U0"})
	require.Error(t, err)
	assert.True(t, errs.ErrArgs.Is(err))

	// the group still has its owner
	owner, err := env.store.TakeOwner(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "U0", owner.UID)
}

func TestLastMemberLeaveDeletesGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOff)
	require.NoError(t, env.server.Leave(ctx, "U0", &apistruct.LeaveGroupReq{GID: gid}))
	_, err := env.store.TakeGroup(ctx, gid)
	require.Error(t, err)
	records, err := env.keys.Find(ctx, gid, []int64{0})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestInvitePendingWhenOwnerConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1"}, constant.OwnerConfirmOn)
	group, _ := env.store.TakeGroup(ctx, gid)

	privU6 := env.accounts.key(t, "U6")
	err := env.server.Invite(ctx, "U1", &apistruct.InviteGroupMemberReq{
		GID:     gid,
		Members: []string{"U6"},
		SignatureInfos: []apistruct.SignatureInfo{
			{UID: "U6", Signature: sign(t, privU6, []byte(group.QrCodeSetting))},
		},
	})
	require.NoError(t, err)
	p, err := env.store.TakePending(ctx, gid, "U6")
	require.NoError(t, err)
	assert.Equal(t, "U1", p.Inviter)
}

func TestInviteMutualityFailureSilentlySkips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOff)
	env.accounts.mutual = false

	require.NoError(t, env.server.Invite(ctx, "U0", &apistruct.InviteGroupMemberReq{GID: gid, Members: []string{"U7"}}))
	_, err := env.store.TakeMember(ctx, gid, "U7")
	require.Error(t, err)
}

func TestInviteSubscriberBypassesMutuality(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOff)
	env.accounts.mutual = false

	require.NoError(t, env.server.Invite(ctx, "U0", &apistruct.InviteGroupMemberReq{
		GID:     gid,
		Members: []string{"U8"},
		Role:    constant.RoleSubscriber,
	}))
	m, err := env.store.TakeMember(ctx, gid, "U8")
	require.NoError(t, err)
	assert.Equal(t, constant.RoleSubscriber, m.Role)

	err = env.server.Invite(ctx, "U0", &apistruct.InviteGroupMemberReq{
		GID:     gid,
		Members: []string{"U9"},
		Role:    constant.RoleAdmin,
	})
	require.Error(t, err)
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestQrCodeSettingChangeClearsPendings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", nil, constant.OwnerConfirmOn)
	group, _ := env.store.TakeGroup(ctx, gid)

	privU5 := env.accounts.key(t, "U5")
	_, err := env.server.JoinByQrCode(ctx, "U5", &apistruct.JoinGroupByCodeReq{
		GID: gid, QrCode: group.QrCodeSetting, QrToken: "tok", Signature: sign(t, privU5, []byte("tok")),
	})
	require.NoError(t, err)

	privU0 := env.accounts.key(t, "U0")
	plain := []byte("share-settings-v2")
	setting := base64.StdEncoding.EncodeToString(plain)
	shareSig := sign(t, privU0, plain)
	shareOwnerSig := sign(t, privU0, append(append([]byte{}, plain...), byte(constant.OwnerConfirmOn)))
	err = env.server.UpdateGroup(ctx, "U0", &apistruct.UpdateGroupReq{
		GID:                           gid,
		QrCodeSetting:                 &setting,
		ShareSignature:                &shareSig,
		ShareAndOwnerConfirmSignature: &shareOwnerSig,
	})
	require.NoError(t, err)

	pendings, err := env.store.FindPendings(ctx, gid)
	require.NoError(t, err)
	assert.Empty(t, pendings)
}

func TestUpdateGroupRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	gid := createTestGroup(t, env, "U0", []string{"U1"}, constant.OwnerConfirmOff)
	name := "new"
	err := env.server.UpdateGroup(context.Background(), "U1", &apistruct.UpdateGroupReq{GID: gid, Name: &name})
	require.Error(t, err)
	assert.True(t, servererrs.ErrNotOwner.Is(err))
}

func TestUpdateRoleAndMute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2"}, constant.OwnerConfirmOff)

	require.NoError(t, env.server.UpdateRole(ctx, "U0", &apistruct.UpdateRoleReq{GID: gid, UID: "U1", Role: constant.RoleAdmin}))
	m, _ := env.store.TakeMember(ctx, gid, "U1")
	assert.Equal(t, constant.RoleAdmin, m.Role)

	// the new admin can mute a plain member
	require.NoError(t, env.server.Mute(ctx, "U1", &apistruct.MuteMemberReq{GID: gid, Members: []string{"U2"}}))
	m, _ = env.store.TakeMember(ctx, gid, "U2")
	assert.NotZero(t, m.Status&constant.MemberStatusMuted)

	require.NoError(t, env.server.Unmute(ctx, "U1", &apistruct.MuteMemberReq{GID: gid, Members: []string{"U2"}}))
	m, _ = env.store.TakeMember(ctx, gid, "U2")
	assert.Zero(t, m.Status&constant.MemberStatusMuted)
}

func TestGetMembersRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1"}, constant.OwnerConfirmOff)

	resp, err := env.server.GetMembers(ctx, "U0", &apistruct.GetMembersReq{GID: gid})
	require.NoError(t, err)
	assert.Len(t, resp.Members, 2)

	_, err = env.server.GetMembers(ctx, "ghost", &apistruct.GetMembersReq{GID: gid})
	require.Error(t, err)
}

func TestPageMembersWalksWholeGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2", "U3"}, constant.OwnerConfirmOff)

	var seen []string
	req := &apistruct.PageMembersReq{GID: gid, Count: 2}
	for {
		resp, err := env.server.PageMembers(ctx, "U0", req)
		require.NoError(t, err)
		for _, m := range resp.Members {
			seen = append(seen, m.UID)
		}
		if !resp.HasMore || len(resp.Members) == 0 {
			break
		}
		last := resp.Members[len(resp.Members)-1]
		req.StartUID = last.UID
		req.StartCreateTime = last.CreateTime
	}
	assert.ElementsMatch(t, []string{"U0", "U1", "U2", "U3"}, seen)
	// no duplicates across pages
	assert.Len(t, seen, 4)

	_, err := env.server.PageMembers(ctx, "ghost", &apistruct.PageMembersReq{GID: gid})
	require.Error(t, err)
}

func TestSysMsgCatchUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := createTestGroup(t, env, "U0", []string{"U1", "U2"}, constant.OwnerConfirmOff)

	require.NoError(t, env.server.Kick(ctx, "U0", &apistruct.KickGroupMemberReq{GID: gid, Members: []string{"U2"}}))

	resp, err := env.server.SysMsgs(ctx, "U0", &apistruct.SysMsgsReq{GID: gid})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp.Msgs), 2)
	for i := 1; i < len(resp.Msgs); i++ {
		assert.Greater(t, resp.Msgs[i].Mid, resp.Msgs[i-1].Mid)
	}

	// replaying from the last acked mid returns only what followed
	lastMid := resp.Msgs[len(resp.Msgs)-1].Mid
	tail, err := env.server.SysMsgs(ctx, "U0", &apistruct.SysMsgsReq{GID: gid, Mid: lastMid - 1})
	require.NoError(t, err)
	require.Len(t, tail.Msgs, 1)
	assert.Equal(t, lastMid, tail.Msgs[0].Mid)

	_, err = env.server.SysMsgs(ctx, "U1", &apistruct.SysMsgsReq{GID: gid, Mid: lastMid})
	require.NoError(t, err)
}
