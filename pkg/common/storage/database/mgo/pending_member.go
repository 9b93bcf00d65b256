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

func NewPendingMemberMongo(db *mongo.Database) (database.PendingMember, error) {
	coll := db.Collection(database.PendingMemberName)
	_, err := coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{
			{Key: "gid", Value: 1},
			{Key: "uid", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &PendingMemberMgo{coll: coll}, nil
}

type PendingMemberMgo struct {
	coll *mongo.Collection
}

// Create upserts: a repeated join request refreshes the recorded intent
// instead of failing on the unique index.
func (p *PendingMemberMgo) Create(ctx context.Context, pending *model.PendingMember) error {
	filter := bson.M{"gid": pending.GID, "uid": pending.UID}
	update := bson.M{"$set": pending}
	_, err := p.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errs.Wrap(err)
}

func (p *PendingMemberMgo) Take(ctx context.Context, gid int64, uid string) (*model.PendingMember, error) {
	return mongoutil.FindOne[*model.PendingMember](ctx, p.coll, bson.M{"gid": gid, "uid": uid})
}

func (p *PendingMemberMgo) FindAll(ctx context.Context, gid int64) ([]*model.PendingMember, error) {
	return mongoutil.Find[*model.PendingMember](ctx, p.coll, bson.M{"gid": gid},
		options.Find().SetSort(bson.D{{Key: "create_time", Value: 1}}))
}

func (p *PendingMemberMgo) Delete(ctx context.Context, gid int64, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	return mongoutil.DeleteMany(ctx, p.coll,
		bson.M{"gid": gid, "uid": bson.M{"$in": uids}})
}

func (p *PendingMemberMgo) DeleteAll(ctx context.Context, gid int64) error {
	return mongoutil.DeleteMany(ctx, p.coll, bson.M{"gid": gid})
}
