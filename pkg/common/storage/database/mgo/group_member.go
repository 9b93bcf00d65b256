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

package mgo

import (
	"context"
	"time"

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/db/mongoutil"
	"github.com/openimsdk/tools/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func NewGroupMemberMongo(db *mongo.Database) (database.GroupMember, error) {
	coll := db.Collection(database.GroupMemberName)
	_, err := coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "gid", Value: 1},
				{Key: "uid", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			// Composite paging cursor for the ordered listing.
			Keys: bson.D{
				{Key: "gid", Value: 1},
				{Key: "create_time", Value: 1},
				{Key: "uid", Value: 1},
			},
		},
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &GroupMemberMgo{coll: coll}, nil
}

type GroupMemberMgo struct {
	coll *mongo.Collection
}

func (g *GroupMemberMgo) Create(ctx context.Context, members []*model.GroupMember) error {
	return mongoutil.InsertMany(ctx, g.coll, members)
}

func (g *GroupMemberMgo) Take(ctx context.Context, gid int64, uid string) (*model.GroupMember, error) {
	return mongoutil.FindOne[*model.GroupMember](ctx, g.coll, bson.M{"gid": gid, "uid": uid})
}

func (g *GroupMemberMgo) Find(ctx context.Context, gid int64, uids []string) ([]*model.GroupMember, error) {
	return mongoutil.Find[*model.GroupMember](ctx, g.coll,
		bson.M{"gid": gid, "uid": bson.M{"$in": uids}})
}

func (g *GroupMemberMgo) FindAll(ctx context.Context, gid int64) ([]*model.GroupMember, error) {
	return mongoutil.Find[*model.GroupMember](ctx, g.coll, bson.M{"gid": gid})
}

func (g *GroupMemberMgo) FindUserIDs(ctx context.Context, gid int64) ([]string, error) {
	return mongoutil.Find[string](ctx, g.coll, bson.M{"gid": gid},
		options.Find().SetProjection(bson.M{"_id": 0, "uid": 1}))
}

func (g *GroupMemberMgo) FindByRole(ctx context.Context, gid int64, roles []int32, startUid string, count int) ([]*model.GroupMember, error) {
	filter := bson.M{"gid": gid}
	if len(roles) > 0 {
		filter["role"] = bson.M{"$in": roles}
	}
	if startUid != "" {
		filter["uid"] = bson.M{"$gt": startUid}
	}
	opt := options.Find().SetSort(bson.D{{Key: "uid", Value: 1}})
	if count > 0 {
		opt.SetLimit(int64(count))
	}
	return mongoutil.Find[*model.GroupMember](ctx, g.coll, filter, opt)
}

func (g *GroupMemberMgo) FindOrderedByCreateTime(ctx context.Context, gid int64, roles []int32, startUid string, createTime int64, count int) ([]*model.GroupMember, error) {
	filter := bson.M{"gid": gid}
	if len(roles) > 0 {
		filter["role"] = bson.M{"$in": roles}
	}
	if startUid != "" || createTime != 0 {
		// Strictly after (createTime, startUid) in composite order.
		ct := time.UnixMilli(createTime)
		filter["$or"] = bson.A{
			bson.M{"create_time": bson.M{"$gt": ct}},
			bson.M{"create_time": ct, "uid": bson.M{"$gt": startUid}},
		}
	}
	opt := options.Find().SetSort(bson.D{
		{Key: "create_time", Value: 1},
		{Key: "uid", Value: 1},
	})
	if count > 0 {
		opt.SetLimit(int64(count))
	}
	return mongoutil.Find[*model.GroupMember](ctx, g.coll, filter, opt)
}

func (g *GroupMemberMgo) TakeOwner(ctx context.Context, gid int64) (*model.GroupMember, error) {
	return mongoutil.FindOne[*model.GroupMember](ctx, g.coll,
		bson.M{"gid": gid, "role": constant.RoleOwner})
}

func (g *GroupMemberMgo) Update(ctx context.Context, gid int64, uid string, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return mongoutil.UpdateOne(ctx, g.coll,
		bson.M{"gid": gid, "uid": uid},
		bson.M{"$set": data}, true)
}

// UpdateIfEmpty only fills fields that are still empty, so a slow client
// cannot clobber key material written by a faster one.
func (g *GroupMemberMgo) UpdateIfEmpty(ctx context.Context, gid int64, uid string, data map[string]any) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	filter := bson.M{"gid": gid, "uid": uid}
	for field := range data {
		filter[field] = bson.M{"$in": bson.A{"", nil}}
	}
	res, err := g.coll.UpdateOne(ctx, filter, bson.M{"$set": data})
	if err != nil {
		return false, errs.Wrap(err)
	}
	return res.ModifiedCount > 0, nil
}

func (g *GroupMemberMgo) Delete(ctx context.Context, gid int64, uids []string) error {
	filter := bson.M{"gid": gid}
	if len(uids) > 0 {
		filter["uid"] = bson.M{"$in": uids}
	}
	return mongoutil.DeleteMany(ctx, g.coll, filter)
}

func (g *GroupMemberMgo) Count(ctx context.Context, gid int64) (*model.MemberCount, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"gid": gid}},
		bson.M{"$group": bson.M{
			"_id": nil,
			"member_cnt": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$ne": bson.A{"$role", constant.RoleSubscriber}}, 1, 0}}},
			"subscriber_cnt": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$role", constant.RoleSubscriber}}, 1, 0}}},
			"owner": bson.M{"$max": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$role", constant.RoleOwner}}, "$uid", ""}}},
		}},
	}
	type item struct {
		MemberCnt     int64  `bson:"member_cnt"`
		SubscriberCnt int64  `bson:"subscriber_cnt"`
		Owner         string `bson:"owner"`
	}
	items, err := mongoutil.Aggregate[item](ctx, g.coll, pipeline)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &model.MemberCount{}, nil
	}
	return &model.MemberCount{
		MemberCnt:     items[0].MemberCnt,
		SubscriberCnt: items[0].SubscriberCnt,
		Owner:         items[0].Owner,
	}, nil
}
