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
	"time"

	"github.com/sealmsg/group-server/pkg/apistruct"
	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/servererrs"
	"github.com/sealmsg/group-server/pkg/common/storage/model"
	"github.com/sealmsg/group-server/pkg/ratelimit"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
)

func validateEx(ex map[string]string) error {
	if len(ex) > constant.MaxExtensionEntries {
		return errs.ErrArgs.WrapMsg("too many extension entries", "count", len(ex))
	}
	for k, v := range ex {
		if len(k) > constant.MaxExtensionKeyLen {
			return errs.ErrArgs.WrapMsg("extension key too long", "len", len(k))
		}
		if len(v) > constant.MaxExtensionValueLen {
			return errs.ErrArgs.WrapMsg("extension value too long", "key", k)
		}
	}
	return nil
}

// CreateGroup builds a V3 group with the caller as owner and seeds the key
// store at version 0. Invitees failing the mutual-contact check are dropped
// silently.
func (s *Server) CreateGroup(ctx context.Context, uid string, req *apistruct.CreateGroupReq) (*apistruct.CreateGroupResp, error) {
	if len(req.Members) != len(req.MemberProofs) || len(req.Members) != len(req.MembersGroupInfoSecrets) {
		return nil, errs.ErrArgs.WrapMsg("members, proofs and secrets must align")
	}
	if !constant.ValidKeyMode(req.GroupKeysMode) {
		return nil, errs.ErrArgs.WrapMsg("invalid groupKeysMode", "mode", req.GroupKeysMode)
	}
	if req.OwnerConfirm != constant.OwnerConfirmOff && req.OwnerConfirm != constant.OwnerConfirmOn {
		return nil, errs.ErrArgs.WrapMsg("invalid ownerConfirm", "ownerConfirm", req.OwnerConfirm)
	}
	if err := validateEx(req.Ex); err != nil {
		return nil, err
	}
	if err := s.verifyShareChainByOwner(ctx, uid, req.QrCodeSetting, req.ShareSignature, req.ShareAndOwnerConfirmSignature, req.OwnerConfirm); err != nil {
		return nil, err
	}
	if err := s.limiters.GroupCreation.Acquire(ctx, ratelimit.SubjectUID(uid)); err != nil {
		return nil, err
	}

	gid, err := genGID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	group := &model.Group{
		GID:                           gid,
		Name:                          req.Name,
		Icon:                          req.Icon,
		Intro:                         req.Intro,
		Version:                       constant.GroupV3,
		Broadcast:                     req.Broadcast,
		OwnerConfirm:                  req.OwnerConfirm,
		QrCodeSetting:                 req.QrCodeSetting,
		ShareSignature:                req.ShareSignature,
		ShareAndOwnerConfirmSignature: req.ShareAndOwnerConfirmSignature,
		EncryptedGroupInfoSecret:      req.EncryptedGroupInfoSecret,
		EncryptedEphemeralKey:         req.EncryptedEphemeralKey,
		CreateTime:                    now,
		UpdateTime:                    now,
		Ex:                            req.Ex,
	}
	members := []*model.GroupMember{{
		GID:        gid,
		UID:        uid,
		Role:       constant.RoleOwner,
		Proof:      req.OwnerProof,
		CreateTime: now,
	}}
	for i, invitee := range req.Members {
		if invitee == uid {
			continue
		}
		mutual, err := s.accounts.IsMutualContact(ctx, uid, invitee)
		if err != nil {
			return nil, err
		}
		if !mutual {
			log.ZInfo(ctx, "invitee dropped, not a mutual contact", "gid", gid, "uid", invitee)
			continue
		}
		members = append(members, &model.GroupMember{
			GID:             gid,
			UID:             invitee,
			Role:            constant.RoleMember,
			Proof:           req.MemberProofs[i],
			GroupInfoSecret: req.MembersGroupInfoSecrets[i],
			CreateTime:      now.Add(time.Duration(i+1) * time.Millisecond),
		})
	}
	if err := s.db.CreateGroup(ctx, group, members); err != nil {
		return nil, err
	}
	err = s.keys.Insert(ctx, &model.KeyRecord{
		GID:        gid,
		Version:    0,
		Mode:       req.GroupKeysMode,
		Creator:    uid,
		CreateTime: now,
		Keys:       req.GroupKeys,
	})
	if err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(members))
	for _, m := range members {
		uids = append(uids, m.UID)
	}
	s.notifyMemberChange(ctx, gid, "create", constant.MsgUserEnterGroup, uids, 0)
	return &apistruct.CreateGroupResp{GID: gid}, nil
}

// UpdateGroup patches group attributes. Only the owner may update; changing
// the share chain re-verifies it and clears pending join requests.
func (s *Server) UpdateGroup(ctx context.Context, uid string, req *apistruct.UpdateGroupReq) error {
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return err
	}
	member, err := s.db.TakeMember(ctx, req.GID, uid)
	if err != nil || member.Role != constant.RoleOwner {
		return servererrs.ErrNotOwner.WrapMsg("only the owner updates the group", "gid", req.GID)
	}
	if err := validateEx(req.Ex); err != nil {
		return err
	}
	patch := map[string]any{}
	setStr := func(field string, v *string) {
		if v != nil {
			patch[field] = *v
		}
	}
	setStr("name", req.Name)
	setStr("icon", req.Icon)
	setStr("intro", req.Intro)
	setStr("encrypted_group_info_secret", req.EncryptedGroupInfoSecret)
	setStr("encrypted_ephemeral_key", req.EncryptedEphemeralKey)
	if len(req.Ex) > 0 {
		patch["ex"] = req.Ex
	}

	qrChanged := req.QrCodeSetting != nil || req.ShareSignature != nil || req.ShareAndOwnerConfirmSignature != nil || req.OwnerConfirm != nil
	if qrChanged {
		setting := group.QrCodeSetting
		shareSig := group.ShareSignature
		shareOwnerSig := group.ShareAndOwnerConfirmSignature
		ownerConfirm := group.OwnerConfirm
		if req.QrCodeSetting != nil {
			setting = *req.QrCodeSetting
		}
		if req.ShareSignature != nil {
			shareSig = *req.ShareSignature
		}
		if req.ShareAndOwnerConfirmSignature != nil {
			shareOwnerSig = *req.ShareAndOwnerConfirmSignature
		}
		if req.OwnerConfirm != nil {
			ownerConfirm = *req.OwnerConfirm
		}
		if err := s.verifyShareChainByOwner(ctx, uid, setting, shareSig, shareOwnerSig, ownerConfirm); err != nil {
			return err
		}
		patch["qr_code_setting"] = setting
		patch["share_signature"] = shareSig
		patch["share_and_owner_confirm_signature"] = shareOwnerSig
		patch["owner_confirm"] = ownerConfirm
	}
	if len(patch) == 0 {
		return nil
	}
	if err := s.db.UpdateGroup(ctx, req.GID, patch); err != nil {
		return err
	}
	if qrChanged {
		// Pending intents were signed against the old share token.
		if err := s.db.DeleteAllPendings(ctx, req.GID); err != nil {
			log.ZWarn(ctx, "pending clear after qr change failed", err, "gid", req.GID)
		}
	}
	s.notifyInfoUpdate(ctx, req.GID)
	return nil
}

// Invite adds members directly (owner or privileged caller, or an open
// group) or files pending join requests when the group requires owner
// confirmation. Invitees failing mutuality are skipped without error.
// Subscribers join read-only and without a contact relation, so only the
// direct path admits them.
func (s *Server) Invite(ctx context.Context, uid string, req *apistruct.InviteGroupMemberReq) error {
	if len(req.Members) == 0 {
		return errs.ErrArgs.WrapMsg("no members to invite")
	}
	if len(req.MemberProofs) > 0 && len(req.MemberProofs) != len(req.Members) {
		return errs.ErrArgs.WrapMsg("memberProofs must align with members")
	}
	if len(req.MemberGroupInfoSecrets) > 0 && len(req.MemberGroupInfoSecrets) != len(req.Members) {
		return errs.ErrArgs.WrapMsg("memberGroupInfoSecrets must align with members")
	}
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return err
	}
	privileged := s.isPrivileged(uid)
	var caller *model.GroupMember
	if !privileged {
		caller, err = s.db.TakeMember(ctx, req.GID, uid)
		if err != nil {
			return servererrs.ErrGroupMemberNotFound.WrapMsg("caller is not a member", "gid", req.GID)
		}
	}
	role := req.Role
	if role == 0 {
		role = constant.RoleMember
	}
	if role != constant.RoleMember && role != constant.RoleSubscriber {
		return errs.ErrArgs.WrapMsg("invitees join as member or subscriber", "role", req.Role)
	}
	direct := privileged || caller.Role == constant.RoleOwner || group.OwnerConfirm == constant.OwnerConfirmOff
	if !direct {
		if role == constant.RoleSubscriber {
			return errs.ErrArgs.WrapMsg("subscriber invites need the owner", "gid", req.GID)
		}
		return s.invitePending(ctx, uid, group, req)
	}
	return s.inviteDirect(ctx, uid, group, req, privileged, role)
}

func (s *Server) inviteDirect(ctx context.Context, uid string, group *model.Group, req *apistruct.InviteGroupMemberReq, privileged bool, role int32) error {
	existing, err := s.db.FindMembers(ctx, group.GID, req.Members)
	if err != nil {
		return err
	}
	already := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		already[m.UID] = struct{}{}
	}
	now := time.Now()
	var added []*model.GroupMember
	for i, invitee := range req.Members {
		if _, ok := already[invitee]; ok {
			continue
		}
		if err := s.limiters.GroupMemberJoin.Acquire(ctx, ratelimit.SubjectGIDUID(group.GID, invitee)); err != nil {
			return err
		}
		if !privileged && role != constant.RoleSubscriber {
			mutual, err := s.accounts.IsMutualContact(ctx, uid, invitee)
			if err != nil {
				return err
			}
			if !mutual {
				log.ZInfo(ctx, "invitee skipped, not a mutual contact", "gid", group.GID, "uid", invitee)
				continue
			}
		}
		member := &model.GroupMember{
			GID:        group.GID,
			UID:        invitee,
			Role:       role,
			CreateTime: now.Add(time.Duration(i) * time.Millisecond),
		}
		if len(req.MemberProofs) > 0 {
			member.Proof = req.MemberProofs[i]
		}
		if len(req.MemberGroupInfoSecrets) > 0 {
			member.GroupInfoSecret = req.MemberGroupInfoSecrets[i]
		}
		added = append(added, member)
	}
	if len(added) == 0 {
		return nil
	}
	if err := s.db.CreateMembers(ctx, added); err != nil {
		return err
	}
	uids := make([]string, 0, len(added))
	for _, m := range added {
		uids = append(uids, m.UID)
	}
	s.notifyMemberChange(ctx, group.GID, "invite", constant.MsgUserEnterGroup, uids, 0)
	s.evaluateKeys(ctx, uid, group)
	return nil
}

func (s *Server) invitePending(ctx context.Context, uid string, group *model.Group, req *apistruct.InviteGroupMemberReq) error {
	if len(req.SignatureInfos) != len(req.Members) {
		return errs.ErrArgs.WrapMsg("signatureInfos must align with members")
	}
	owner, err := s.db.TakeOwner(ctx, group.GID)
	if err != nil {
		return err
	}
	setting := group.QrCodeSetting
	now := time.Now()
	for i, invitee := range req.Members {
		info := req.SignatureInfos[i]
		if info.UID != invitee {
			return errs.ErrArgs.WrapMsg("signature info uid mismatch", "uid", invitee)
		}
		pub, err := s.accounts.GetPublicKey(ctx, invitee)
		if err != nil {
			return err
		}
		if err := verifySignature(pub, []byte(setting), info.Signature); err != nil {
			return err
		}
		if err := s.limiters.GroupMemberJoin.Acquire(ctx, ratelimit.SubjectGIDUID(group.GID, invitee)); err != nil {
			return err
		}
		err = s.db.CreatePending(ctx, &model.PendingMember{
			GID:        group.GID,
			UID:        invitee,
			Inviter:    uid,
			Signature:  info.Signature,
			CreateTime: now,
		})
		if err != nil {
			return err
		}
		s.notifyJoinReview(ctx, group.GID, owner.UID, invitee)
	}
	return nil
}

// JoinByQrCode validates the presented share token against the stored chain.
// Open groups get an ephemeral QrCodePending record and the encrypted group
// secret back; owner-confirm groups get a pending review row.
func (s *Server) JoinByQrCode(ctx context.Context, uid string, req *apistruct.JoinGroupByCodeReq) (*apistruct.JoinGroupByCodeResp, error) {
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.TakeMember(ctx, req.GID, uid); err == nil {
		// Already a member; hand the secret back without new state.
		return &apistruct.JoinGroupByCodeResp{EncryptedGroupInfoSecret: group.EncryptedGroupInfoSecret}, nil
	}
	if req.QrCode != group.QrCodeSetting {
		return nil, servererrs.ErrQrCodeExpired.WrapMsg("share token does not match the group", "gid", req.GID)
	}
	owner, err := s.db.TakeOwner(ctx, req.GID)
	if err != nil {
		return nil, err
	}
	if err := s.verifyShareChainByOwner(ctx, owner.UID, group.QrCodeSetting, group.ShareSignature, group.ShareAndOwnerConfirmSignature, group.OwnerConfirm); err != nil {
		return nil, err
	}
	callerPub, err := s.accounts.GetPublicKey(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := verifySignature(callerPub, []byte(req.QrToken), req.Signature); err != nil {
		return nil, err
	}
	if err := s.limiters.GroupMemberJoin.Acquire(ctx, ratelimit.SubjectGIDUID(req.GID, uid)); err != nil {
		return nil, err
	}

	if group.OwnerConfirm == constant.OwnerConfirmOn {
		err = s.db.CreatePending(ctx, &model.PendingMember{
			GID:        req.GID,
			UID:        uid,
			Signature:  req.Signature,
			Comment:    req.Comment,
			CreateTime: time.Now(),
		})
		if err != nil {
			return nil, err
		}
		s.notifyJoinReview(ctx, req.GID, owner.UID, uid)
		return &apistruct.JoinGroupByCodeResp{Pending: true}, nil
	}

	err = s.db.SetQrPending(ctx, &model.QrCodePendingMember{GID: req.GID, UID: uid, CreateTime: time.Now()})
	if err != nil {
		return nil, err
	}
	return &apistruct.JoinGroupByCodeResp{EncryptedGroupInfoSecret: group.EncryptedGroupInfoSecret}, nil
}

// AddMe consumes the caller's QrCodePending record and promotes them to
// member. Calling again once a member is a no-op.
func (s *Server) AddMe(ctx context.Context, uid string, req *apistruct.AddMeReq) error {
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return err
	}
	if _, err := s.db.TakeMember(ctx, req.GID, uid); err == nil {
		return nil
	}
	if _, err := s.db.TakeQrPending(ctx, req.GID, uid); err != nil {
		return servererrs.ErrQrCodeExpired.WrapMsg("no pending qr join", "gid", req.GID)
	}
	err = s.db.CreateMembers(ctx, []*model.GroupMember{{
		GID:             req.GID,
		UID:             uid,
		Role:            constant.RoleMember,
		GroupInfoSecret: req.GroupInfoSecret,
		Proof:           req.Proof,
		CreateTime:      time.Now(),
	}})
	if err != nil {
		return err
	}
	if err := s.db.DeleteQrPending(ctx, req.GID, uid); err != nil {
		log.ZWarn(ctx, "qr pending delete failed", err, "gid", req.GID, "uid", uid)
	}
	s.notifyMemberChange(ctx, req.GID, "add_me", constant.MsgUserEnterGroup, []string{uid}, 0)
	s.evaluateKeys(ctx, uid, group)
	return nil
}

// Review lets the owner accept or reject pending joins. Accepted applicants
// become members; both outcomes drop the pending row.
func (s *Server) Review(ctx context.Context, uid string, req *apistruct.ReviewJoinRequestReq) error {
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return err
	}
	member, err := s.db.TakeMember(ctx, req.GID, uid)
	if err != nil || member.Role != constant.RoleOwner {
		return servererrs.ErrNotOwner.WrapMsg("only the owner reviews joins", "gid", req.GID)
	}
	now := time.Now()
	var accepted []string
	for _, item := range req.List {
		if _, err := s.db.TakePending(ctx, req.GID, item.UID); err != nil {
			log.ZInfo(ctx, "review skipped, no pending row", "gid", req.GID, "uid", item.UID)
			continue
		}
		if item.Accepted {
			if _, err := s.db.TakeMember(ctx, req.GID, item.UID); err == nil {
				// Raced into membership already; just fill missing secrets.
				if _, err := s.db.UpdateMemberIfEmpty(ctx, req.GID, item.UID, map[string]any{
					"group_info_secret": item.GroupInfoSecret,
				}); err != nil {
					return err
				}
			} else {
				err = s.db.CreateMembers(ctx, []*model.GroupMember{{
					GID:             req.GID,
					UID:             item.UID,
					Role:            constant.RoleMember,
					GroupInfoSecret: item.GroupInfoSecret,
					Proof:           item.Proof,
					CreateTime:      now,
				}})
				if err != nil {
					return err
				}
			}
			accepted = append(accepted, item.UID)
		}
		if err := s.db.DeletePendings(ctx, req.GID, []string{item.UID}); err != nil {
			log.ZWarn(ctx, "pending delete failed", err, "gid", req.GID, "uid", item.UID)
		}
	}
	if len(accepted) > 0 {
		s.notifyMemberChange(ctx, req.GID, "review", constant.MsgUserEnterGroup, accepted, 0)
		s.evaluateKeys(ctx, uid, group)
	}
	return nil
}

// Kick removes members. Kicking uids that are not members is a no-op, so the
// operation is idempotent.
func (s *Server) Kick(ctx context.Context, uid string, req *apistruct.KickGroupMemberReq) error {
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return err
	}
	member, err := s.db.TakeMember(ctx, req.GID, uid)
	if err != nil || member.Role != constant.RoleOwner {
		return servererrs.ErrNotOwner.WrapMsg("only the owner kicks members", "gid", req.GID)
	}
	targets := make([]string, 0, len(req.Members))
	for _, target := range req.Members {
		if target != uid {
			targets = append(targets, target)
		}
	}
	existing, err := s.db.FindMembers(ctx, req.GID, targets)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	uids := make([]string, 0, len(existing))
	for _, m := range existing {
		uids = append(uids, m.UID)
	}
	if err := s.db.DeleteMembers(ctx, req.GID, uids); err != nil {
		return err
	}
	s.notifyMemberChange(ctx, req.GID, "kick", constant.MsgUserQuitGroup, uids, 0)
	s.evaluateKeys(ctx, uid, group)
	return nil
}

// Leave removes the caller. A leaving owner of a non-empty group must name a
// successor; the promotion and removal commit atomically. The last member
// leaving deletes the group.
func (s *Server) Leave(ctx context.Context, uid string, req *apistruct.LeaveGroupReq) error {
	group, err := s.db.TakeGroup(ctx, req.GID)
	if err != nil {
		return err
	}
	member, err := s.db.TakeMember(ctx, req.GID, uid)
	if err != nil {
		return servererrs.ErrGroupMemberNotFound.WrapMsg("caller is not a member", "gid", req.GID)
	}
	if member.Role != constant.RoleOwner {
		if err := s.db.DeleteMembers(ctx, req.GID, []string{uid}); err != nil {
			return err
		}
		s.notifyMemberChange(ctx, req.GID, "leave", constant.MsgUserQuitGroup, []string{uid}, 0)
		s.evaluateKeys(ctx, uid, group)
		return nil
	}

	count, err := s.db.CountMembers(ctx, req.GID)
	if err != nil {
		return err
	}
	if count.MemberCnt+count.SubscriberCnt <= 1 {
		if err := s.db.DeleteGroup(ctx, req.GID); err != nil {
			return err
		}
		if err := s.keys.Clear(ctx, req.GID); err != nil {
			log.ZWarn(ctx, "key clear on group delete failed", err, "gid", req.GID)
		}
		return nil
	}
	if req.NextOwner == "" {
		return errs.ErrArgs.WrapMsg("leaving owner must name a successor", "gid", req.GID)
	}
	if req.NextOwner == uid {
		// Promoting the leaver and then deleting them would leave the group
		// ownerless.
		return errs.ErrArgs.WrapMsg("successor must be another member", "gid", req.GID)
	}
	next, err := s.db.TakeMember(ctx, req.GID, req.NextOwner)
	if err != nil {
		return servererrs.ErrGroupMemberNotFound.WrapMsg("next owner is not a member", "gid", req.GID)
	}
	if next.Role == constant.RoleOwner {
		return errs.ErrArgs.WrapMsg("successor already owns the group", "gid", req.GID)
	}
	if next.Role < constant.RoleMember {
		return errs.ErrArgs.WrapMsg("next owner must be a full member", "uid", req.NextOwner)
	}
	if err := s.db.TransferOwner(ctx, req.GID, uid, req.NextOwner, true); err != nil {
		return err
	}
	s.notifyMemberChange(ctx, req.GID, "owner_transfer", constant.MsgUserChangeRole, []string{req.NextOwner}, constant.RoleOwner)
	s.notifyMemberChange(ctx, req.GID, "leave", constant.MsgUserQuitGroup, []string{uid}, 0)
	s.evaluateKeys(ctx, uid, group)
	return nil
}

// UpdateRole changes one member's role. Ownership does not move here; use
// Leave with a successor for that.
func (s *Server) UpdateRole(ctx context.Context, uid string, req *apistruct.UpdateRoleReq) error {
	if _, err := s.db.TakeGroup(ctx, req.GID); err != nil {
		return err
	}
	caller, err := s.db.TakeMember(ctx, req.GID, uid)
	if err != nil || caller.Role != constant.RoleOwner {
		return servererrs.ErrNotOwner.WrapMsg("only the owner changes roles", "gid", req.GID)
	}
	switch req.Role {
	case constant.RoleAdmin, constant.RoleMember, constant.RoleSubscriber:
	default:
		return errs.ErrArgs.WrapMsg("invalid role", "role", req.Role)
	}
	target, err := s.db.TakeMember(ctx, req.GID, req.UID)
	if err != nil {
		return servererrs.ErrGroupMemberNotFound.WrapMsg("target is not a member", "gid", req.GID)
	}
	if target.Role == constant.RoleOwner {
		return servererrs.ErrNotOwner.WrapMsg("owner role cannot be changed here", "gid", req.GID)
	}
	if err := s.db.UpdateMember(ctx, req.GID, req.UID, map[string]any{"role": req.Role}); err != nil {
		return err
	}
	s.notifyMemberChange(ctx, req.GID, "role_change", constant.MsgUserChangeRole, []string{req.UID}, req.Role)
	return nil
}

func (s *Server) setMuted(ctx context.Context, uid string, gid int64, targets []string, muted bool) error {
	if _, err := s.db.TakeGroup(ctx, gid); err != nil {
		return err
	}
	caller, err := s.db.TakeMember(ctx, gid, uid)
	if err != nil || caller.Role < constant.RoleAdmin {
		return servererrs.ErrNotOwner.WrapMsg("admin role required", "gid", gid)
	}
	members, err := s.db.FindMembers(ctx, gid, targets)
	if err != nil {
		return err
	}
	kind := constant.MsgUserMuteGroup
	var uids []string
	for _, m := range members {
		if m.Role >= caller.Role {
			continue
		}
		status := m.Status
		if muted {
			status |= constant.MemberStatusMuted
		} else {
			status &^= constant.MemberStatusMuted
		}
		if status == m.Status {
			continue
		}
		if err := s.db.UpdateMember(ctx, gid, m.UID, map[string]any{"status": status}); err != nil {
			return err
		}
		uids = append(uids, m.UID)
	}
	if !muted {
		kind = constant.MsgUserUnmuteGroup
	}
	if len(uids) > 0 {
		s.notifyMemberChange(ctx, gid, "mute_change", kind, uids, 0)
	}
	return nil
}

// Mute sets the mute bit on the named members.
func (s *Server) Mute(ctx context.Context, uid string, req *apistruct.MuteMemberReq) error {
	return s.setMuted(ctx, uid, req.GID, req.Members, true)
}

// Unmute clears the mute bit on the named members.
func (s *Server) Unmute(ctx context.Context, uid string, req *apistruct.MuteMemberReq) error {
	return s.setMuted(ctx, uid, req.GID, req.Members, false)
}

// UpdateMyInfo patches the caller's own member row.
func (s *Server) UpdateMyInfo(ctx context.Context, uid string, req *apistruct.UpdateMyInfoReq) error {
	if _, err := s.db.TakeMember(ctx, req.GID, uid); err != nil {
		return servererrs.ErrGroupMemberNotFound.WrapMsg("caller is not a member", "gid", req.GID)
	}
	patch := map[string]any{}
	if req.GroupNickname != nil {
		patch["group_nickname"] = *req.GroupNickname
	}
	if req.ProfileKeys != nil {
		patch["profile_keys"] = *req.ProfileKeys
	}
	if req.LastAckMid != nil {
		patch["last_ack_mid"] = *req.LastAckMid
	}
	if len(patch) == 0 {
		return nil
	}
	return s.db.UpdateMember(ctx, req.GID, uid, patch)
}

// GetMembers returns the requested member rows; with no uids it returns the
// whole roster.
func (s *Server) GetMembers(ctx context.Context, uid string, req *apistruct.GetMembersReq) (*apistruct.GetMembersResp, error) {
	if len(req.UIDs) > constant.MaxMembersPerQuery {
		return nil, errs.ErrArgs.WrapMsg("too many uids", "count", len(req.UIDs))
	}
	if _, err := s.db.TakeMember(ctx, req.GID, uid); err != nil {
		return nil, servererrs.ErrGroupMemberNotFound.WrapMsg("caller is not a member", "gid", req.GID)
	}
	var members []*model.GroupMember
	var err error
	if len(req.UIDs) == 0 {
		members, err = s.db.FindAllMembers(ctx, req.GID)
	} else {
		members, err = s.db.FindMembers(ctx, req.GID, req.UIDs)
	}
	if err != nil {
		return nil, err
	}
	resp := &apistruct.GetMembersResp{Members: make([]apistruct.MemberEntry, 0, len(members))}
	for _, m := range members {
		resp.Members = append(resp.Members, memberEntry(m))
	}
	return resp, nil
}

func memberEntry(m *model.GroupMember) apistruct.MemberEntry {
	return apistruct.MemberEntry{
		UID:             m.UID,
		Role:            m.Role,
		GroupInfoSecret: m.GroupInfoSecret,
		Proof:           m.Proof,
		Nick:            m.Nick,
		Nickname:        m.Nickname,
		GroupNickname:   m.GroupNickname,
		ProfileKeys:     m.ProfileKeys,
		Status:          m.Status,
		CreateTime:      m.CreateTime.UnixMilli(),
	}
}

// PageMembers walks the member list in (createTime, uid) order so clients can
// sync large groups incrementally.
func (s *Server) PageMembers(ctx context.Context, uid string, req *apistruct.PageMembersReq) (*apistruct.PageMembersResp, error) {
	if _, err := s.db.TakeMember(ctx, req.GID, uid); err != nil {
		return nil, servererrs.ErrGroupMemberNotFound.WrapMsg("caller is not a member", "gid", req.GID)
	}
	count := req.Count
	if count <= 0 || count > constant.MaxMembersPageSize {
		count = constant.MaxMembersPageSize
	}
	members, err := s.db.FindMembersOrdered(ctx, req.GID, req.Roles, req.StartUID, req.StartCreateTime, count)
	if err != nil {
		return nil, err
	}
	resp := &apistruct.PageMembersResp{
		Members: make([]apistruct.MemberEntry, 0, len(members)),
		HasMore: len(members) == count,
	}
	for _, m := range members {
		resp.Members = append(resp.Members, memberEntry(m))
	}
	return resp, nil
}

// SysMsgs returns the group system messages after mid, mid ascending, so a
// client can replay membership changes it missed.
func (s *Server) SysMsgs(ctx context.Context, uid string, req *apistruct.SysMsgsReq) (*apistruct.SysMsgsResp, error) {
	if _, err := s.db.TakeMember(ctx, req.GID, uid); err != nil {
		return nil, servererrs.ErrGroupMemberNotFound.WrapMsg("caller is not a member", "gid", req.GID)
	}
	count := req.Count
	if count <= 0 || count > constant.MaxSysMsgsPageSize {
		count = constant.MaxSysMsgsPageSize
	}
	msgs, err := s.db.FindSysMsgsAfter(ctx, req.GID, req.Mid, count)
	if err != nil {
		return nil, err
	}
	resp := &apistruct.SysMsgsResp{Msgs: make([]apistruct.SysMsgEntry, 0, len(msgs))}
	for _, m := range msgs {
		resp.Msgs = append(resp.Msgs, apistruct.SysMsgEntry{
			Mid:        m.Mid,
			Kind:       m.Kind,
			Body:       m.Body,
			CreateTime: m.CreateTime.UnixMilli(),
		})
	}
	return resp, nil
}

// DhKeys returns the device key bundles for the requested uids, charged
// against the caller's dh-keys budget.
func (s *Server) DhKeys(ctx context.Context, uid string, req *apistruct.GetDhKeysReq) (*apistruct.GetDhKeysResp, error) {
	if len(req.UIDs) == 0 || len(req.UIDs) > constant.MaxDhKeysUids {
		return nil, errs.ErrArgs.WrapMsg("bad uids count", "count", len(req.UIDs))
	}
	if err := s.limiters.DhKeys.Acquire(ctx, ratelimit.SubjectUID(uid)); err != nil {
		return nil, err
	}
	bundles, err := s.accounts.LoadBundles(ctx, req.UIDs)
	if err != nil {
		return nil, err
	}
	resp := &apistruct.GetDhKeysResp{Keys: make([]apistruct.KeyBundleEntry, 0, len(bundles))}
	for _, b := range bundles {
		resp.Keys = append(resp.Keys, apistruct.KeyBundleEntry{
			UID:          b.UID,
			DeviceID:     b.DeviceID,
			IdentityKey:  b.IdentityKey,
			SignedPreKey: b.SignedPreKey,
			OneTimeKey:   b.OneTimeKey,
		})
	}
	return resp, nil
}
