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

	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/db/mongoutil"
	"github.com/openimsdk/tools/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func NewGroupMongo(db *mongo.Database) (database.Group, error) {
	coll := db.Collection(database.GroupName)
	_, err := coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{
			{Key: "gid", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &GroupMgo{coll: coll}, nil
}

type GroupMgo struct {
	coll *mongo.Collection
}

func (g *GroupMgo) Create(ctx context.Context, group *model.Group) error {
	return mongoutil.InsertMany(ctx, g.coll, []*model.Group{group})
}

func (g *GroupMgo) Take(ctx context.Context, gid int64) (*model.Group, error) {
	return mongoutil.FindOne[*model.Group](ctx, g.coll, bson.M{"gid": gid})
}

func (g *GroupMgo) Find(ctx context.Context, gids []int64) ([]*model.Group, error) {
	return mongoutil.Find[*model.Group](ctx, g.coll, bson.M{"gid": bson.M{"$in": gids}})
}

func (g *GroupMgo) UpdateMap(ctx context.Context, gid int64, args map[string]any) error {
	if len(args) == 0 {
		return nil
	}
	return mongoutil.UpdateOne(ctx, g.coll, bson.M{"gid": gid}, bson.M{"$set": args}, true)
}

func (g *GroupMgo) Delete(ctx context.Context, gid int64) error {
	return mongoutil.DeleteOne(ctx, g.coll, bson.M{"gid": gid})
}

// NextMid increments last_mid atomically so concurrent system messages get
// distinct, ordered mids.
func (g *GroupMgo) NextMid(ctx context.Context, gid int64) (int64, error) {
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res, err := mongoutil.FindOneAndUpdate[*model.Group](ctx, g.coll,
		bson.M{"gid": gid},
		bson.M{"$inc": bson.M{"last_mid": 1}},
		opt)
	if err != nil {
		return 0, err
	}
	return res.LastMid, nil
}
