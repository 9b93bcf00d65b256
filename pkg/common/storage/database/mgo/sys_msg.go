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

	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/db/mongoutil"
	"github.com/openimsdk/tools/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func NewGroupSysMsgMongo(db *mongo.Database) (database.GroupSysMsg, error) {
	coll := db.Collection(database.GroupSysMsgName)
	_, err := coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{
			{Key: "gid", Value: 1},
			{Key: "mid", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &GroupSysMsgMgo{coll: coll}, nil
}

type GroupSysMsgMgo struct {
	coll *mongo.Collection
}

func (s *GroupSysMsgMgo) Insert(ctx context.Context, msg *model.GroupSysMsg) error {
	return mongoutil.InsertMany(ctx, s.coll, []*model.GroupSysMsg{msg})
}

func (s *GroupSysMsgMgo) FindAfter(ctx context.Context, gid int64, mid int64, count int) ([]*model.GroupSysMsg, error) {
	opt := options.Find().SetSort(bson.D{{Key: "mid", Value: 1}})
	if count > 0 {
		opt.SetLimit(int64(count))
	}
	return mongoutil.Find[*model.GroupSysMsg](ctx, s.coll,
		bson.M{"gid": gid, "mid": bson.M{"$gt": mid}}, opt)
}

func (s *GroupSysMsgMgo) DeleteBefore(ctx context.Context, before time.Time) error {
	return mongoutil.DeleteMany(ctx, s.coll,
		bson.M{"create_time": bson.M{"$lt": before}})
}
