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

// Package keyepoch drives group key rotation: deciding when a group needs a
// new key epoch, electing the quorum that computes it, and accepting the
// uploaded result under a CAS on (gid, version).
package keyepoch

import (
	"context"
	"time"

	"github.com/sealmsg/group-server/pkg/common/config"
	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/prommetrics"
	"github.com/sealmsg/group-server/pkg/common/servererrs"
	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	"github.com/sealmsg/group-server/pkg/common/storage/controller"
	"github.com/sealmsg/group-server/pkg/common/storage/model"
	"github.com/sealmsg/group-server/pkg/mqbus"
	"github.com/sealmsg/group-server/pkg/ratelimit"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
)

const (
	switchPublishRetries = 3
	switchPublishBackoff = 200 * time.Millisecond
)

// BundleLoader fetches device key bundles from the account service for the
// uids of a group.
type BundleLoader interface {
	LoadBundles(ctx context.Context, uids []string) ([]*model.KeyBundle, error)
}

// GroupKeyEvent is the payload published on the group event channel during
// rotation.
type GroupKeyEvent struct {
	Kind    string `json:"kind"`
	GID     int64  `json:"gid"`
	Version int64  `json:"version"`
	Mode    int32  `json:"mode"`
	Sender  string `json:"sender,omitempty"`
}

type Coordinator struct {
	groupDB  controller.GroupDatabase
	keyDB    controller.KeyDatabase
	bundles  cache.KeyBundleCache
	loader   BundleLoader
	selector *CandidateSelector
	bus      mqbus.Bus
	limiter  ratelimit.Limiter
	fault    FaultInjector
	cfg      config.KeyEpoch
}

func NewCoordinator(
	groupDB controller.GroupDatabase,
	keyDB controller.KeyDatabase,
	bundles cache.KeyBundleCache,
	loader BundleLoader,
	selector *CandidateSelector,
	bus mqbus.Bus,
	limiter ratelimit.Limiter,
	fault FaultInjector,
	cfg config.KeyEpoch,
) *Coordinator {
	if fault == nil {
		fault = NopInjector()
	}
	return &Coordinator{
		groupDB:  groupDB,
		keyDB:    keyDB,
		bundles:  bundles,
		loader:   loader,
		selector: selector,
		bus:      bus,
		limiter:  limiter,
		fault:    fault,
		cfg:      cfg,
	}
}

// nextMode applies the rotation policy for a group of memberCount members
// whose latest record carried previousMode. The second return is false when
// no rotation should happen.
func (c *Coordinator) nextMode(memberCount int, previousMode int32) (int32, bool) {
	switch {
	case memberCount <= c.cfg.PowerGroupMin:
		return constant.KeyModeOneForEach, true
	case memberCount <= c.cfg.PowerGroupMax:
		if previousMode == constant.KeyModeAllTheSame {
			return constant.KeyModeAllTheSame, true
		}
		return constant.KeyModeOneForEach, true
	case memberCount <= c.cfg.NormalGroupRefreshMax:
		return constant.KeyModeAllTheSame, true
	default:
		// Above the refresh ceiling the group stays on its shared key;
		// rotating a ONE_FOR_EACH relic over to ALL_THE_SAME is still allowed.
		if previousMode == constant.KeyModeAllTheSame {
			return 0, false
		}
		return constant.KeyModeAllTheSame, true
	}
}

// Evaluate re-runs the rotation policy for gid and requests a rotation when
// the policy asks for one. It is called after every membership-count change
// and from fire.
func (c *Coordinator) Evaluate(ctx context.Context, uid string, gid int64) error {
	count, err := c.groupDB.CountMembers(ctx, gid)
	if err != nil {
		return err
	}
	mode, rotate := c.nextMode(int(count.MemberCnt), c.keyDB.LatestMode(ctx, gid))
	if !rotate {
		log.ZDebug(ctx, "rotation skipped by policy", "gid", gid, "members", count.MemberCnt)
		return nil
	}
	return c.requestRotate(ctx, uid, gid, mode)
}

// requestRotate announces a rotation request for the next version and, for
// ONE_FOR_EACH, pre-fills the bundle cache so the quorum's prepare is one hop.
func (c *Coordinator) requestRotate(ctx context.Context, uid string, gid int64, mode int32) error {
	if err := c.fault.BeforeRequest(ctx); err != nil {
		return err
	}
	_, latest, err := c.keyDB.LatestModeAndVersion(ctx, gid)
	if err != nil {
		return err
	}
	nextVersion := latest + 1
	_, err = c.bus.PublishGroupEvent(ctx, &GroupKeyEvent{
		Kind:    constant.MsgGroupUpdateKeysRequest,
		GID:     gid,
		Version: nextVersion,
		Mode:    mode,
		Sender:  uid,
	})
	if err != nil {
		return err
	}
	prommetrics.RotationRequestCounter.Inc()
	if mode == constant.KeyModeOneForEach {
		if err := c.prefillBundles(ctx, gid, nextVersion); err != nil {
			// The quorum falls back to loading during prepare.
			log.ZWarn(ctx, "bundle prefill failed", err, "gid", gid, "version", nextVersion)
		}
	}
	return nil
}

func (c *Coordinator) prefillBundles(ctx context.Context, gid int64, version int64) error {
	bundles, err := c.loadBundles(ctx, gid)
	if err != nil {
		return err
	}
	c.bundles.Set(gid, version, bundles)
	return nil
}

func (c *Coordinator) loadBundles(ctx context.Context, gid int64) ([]*model.KeyBundle, error) {
	uids, err := c.groupDB.FindMemberUIDs(ctx, gid)
	if err != nil {
		return nil, err
	}
	return c.loader.LoadBundles(ctx, uids)
}

// Prepare admits one quorum member into the rotation for nextVersion. A
// caller racing behind an already-written version gets a conflict; a caller
// outside the quorum gets a conflict with no key material.
func (c *Coordinator) Prepare(ctx context.Context, uid string, gid int64, nextVersion int64, mode int32) ([]*model.KeyBundle, error) {
	if !constant.ValidKeyMode(mode) {
		return nil, errs.ErrArgs.WrapMsg("invalid key mode", "mode", mode)
	}
	_, latest, err := c.keyDB.LatestModeAndVersion(ctx, gid)
	if err != nil {
		return nil, err
	}
	if nextVersion <= latest {
		return nil, servererrs.ErrKeyVersionConflict.WrapMsg("a newer key version exists", "latest", latest, "next", nextVersion)
	}
	quorum, err := c.selector.Select(ctx, gid, nextVersion, c.cfg.CandidateCount)
	if err != nil {
		return nil, err
	}
	if !InQuorum(quorum, uid) {
		return nil, servererrs.ErrNotInQuorum.WrapMsg("caller not elected for this rotation", "gid", gid, "version", nextVersion)
	}
	if mode == constant.KeyModeAllTheSame {
		return nil, nil
	}
	if bundles, ok := c.bundles.Get(gid, nextVersion); ok {
		return bundles, nil
	}
	bundles, err := c.loadBundles(ctx, gid)
	if err != nil {
		return nil, err
	}
	c.bundles.Set(gid, nextVersion, bundles)
	return bundles, nil
}

// Upload accepts one computed key epoch. The CAS insert on (gid, version)
// makes the first uploader win; losers get ErrKeyVersionConflict.
func (c *Coordinator) Upload(ctx context.Context, uid string, gid int64, version int64, mode int32, encryptVersion int32, keys string) error {
	if err := c.fault.BeforeUpload(ctx); err != nil {
		return err
	}
	if !constant.ValidKeyMode(mode) {
		return errs.ErrArgs.WrapMsg("invalid key mode", "mode", mode)
	}
	group, err := c.groupDB.TakeGroup(ctx, gid)
	if err != nil {
		return err
	}
	if group.Version != constant.GroupV3 {
		return servererrs.ErrUpgradeRequired.WrapMsg("group does not rotate keys", "gid", gid, "groupVersion", group.Version)
	}
	if _, err := c.groupDB.TakeMember(ctx, gid, uid); err != nil {
		return servererrs.ErrNotInGroup.WrapMsg("caller is not a member", "gid", gid)
	}
	err = c.keyDB.Insert(ctx, &model.KeyRecord{
		GID:            gid,
		Version:        version,
		Mode:           mode,
		EncryptVersion: encryptVersion,
		Creator:        uid,
		CreateTime:     time.Now(),
		Keys:           keys,
	})
	if err != nil {
		if servererrs.ErrKeyVersionConflict.Is(err) {
			prommetrics.KeyUploadConflictCounter.Inc()
		}
		return err
	}
	if err := c.fault.BeforeSwitch(ctx); err != nil {
		return err
	}
	c.publishSwitch(ctx, uid, gid, version, mode)
	return nil
}

// publishSwitch announces the new epoch. The record is already durable, so a
// failed publish is retried and ultimately only logged; clients recover via
// fetchLatest.
func (c *Coordinator) publishSwitch(ctx context.Context, uid string, gid int64, version int64, mode int32) {
	event := &GroupKeyEvent{
		Kind:    constant.MsgGroupSwitchKeys,
		GID:     gid,
		Version: version,
		Mode:    mode,
		Sender:  uid,
	}
	var err error
	for attempt := 1; attempt <= switchPublishRetries; attempt++ {
		if _, err = c.bus.PublishGroupEvent(ctx, event); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			log.ZWarn(ctx, "switch publish abandoned", ctx.Err(), "gid", gid, "version", version)
			return
		case <-time.After(switchPublishBackoff * time.Duration(attempt)):
		}
	}
	log.ZWarn(ctx, "switch publish failed after retries", err, "gid", gid, "version", version)
}

// Fire re-evaluates rotation for each gid at a member's request, charged
// against the key-update budget per (uid, gid).
func (c *Coordinator) Fire(ctx context.Context, uid string, gids []int64) error {
	for _, gid := range gids {
		if _, err := c.groupDB.TakeMember(ctx, gid, uid); err != nil {
			return servererrs.ErrNotInGroup.WrapMsg("caller is not a member", "gid", gid)
		}
		if err := c.limiter.Acquire(ctx, ratelimit.SubjectUIDGID(uid, gid)); err != nil {
			return err
		}
		if err := c.Evaluate(ctx, uid, gid); err != nil {
			return err
		}
	}
	return nil
}
