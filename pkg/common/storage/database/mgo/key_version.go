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

	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/database"
	"github.com/sealmsg/group-server/pkg/common/storage/model"

	"github.com/openimsdk/tools/db/mongoutil"
	"github.com/openimsdk/tools/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func NewKeyVersionMongo(db *mongo.Database) (database.KeyVersion, error) {
	coll := db.Collection(database.KeyRecordName)
	_, err := coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{
			{Key: "gid", Value: 1},
			{Key: "version", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &KeyVersionMgo{coll: coll}, nil
}

type KeyVersionMgo struct {
	coll *mongo.Collection
}

// Insert is the CAS write: the unique (gid, version) index rejects a second
// record at the same version, which callers detect with IsDuplicateKeyError.
func (k *KeyVersionMgo) Insert(ctx context.Context, record *model.KeyRecord) error {
	_, err := k.coll.InsertOne(ctx, record)
	return errs.Wrap(err)
}

func (k *KeyVersionMgo) Find(ctx context.Context, gid int64, versions []int64) ([]*model.KeyRecord, error) {
	return mongoutil.Find[*model.KeyRecord](ctx, k.coll,
		bson.M{"gid": gid, "version": bson.M{"$in": versions}},
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
}

func (k *KeyVersionMgo) Latest(ctx context.Context, gid int64) (*model.KeyRecord, error) {
	return mongoutil.FindOne[*model.KeyRecord](ctx, k.coll, bson.M{"gid": gid},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}))
}

func (k *KeyVersionMgo) LatestBatch(ctx context.Context, gids []int64) (map[int64]*model.KeyRecord, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"gid": bson.M{"$in": gids}}},
		bson.M{"$sort": bson.M{"gid": 1, "version": -1}},
		bson.M{"$group": bson.M{
			"_id": "$gid",
			"doc": bson.M{"$first": "$$ROOT"},
		}},
	}
	type item struct {
		Doc model.KeyRecord `bson:"doc"`
	}
	items, err := mongoutil.Aggregate[item](ctx, k.coll, pipeline)
	if err != nil {
		return nil, err
	}
	res := make(map[int64]*model.KeyRecord, len(items))
	for i := range items {
		rec := items[i].Doc
		res[rec.GID] = &rec
	}
	return res, nil
}

func (k *KeyVersionMgo) LatestModeAndVersion(ctx context.Context, gid int64) (int32, int64, error) {
	rec, err := k.Latest(ctx, gid)
	if err != nil {
		if errs.ErrRecordNotFound.Is(err) {
			return constant.KeyModeUnknown, -1, nil
		}
		return constant.KeyModeUnknown, -1, err
	}
	return rec.Mode, rec.Version, nil
}

func (k *KeyVersionMgo) Clear(ctx context.Context, gid int64) error {
	return mongoutil.DeleteMany(ctx, k.coll, bson.M{"gid": gid})
}

func (k *KeyVersionMgo) DeleteBefore(ctx context.Context, gid int64, keep int64) error {
	return mongoutil.DeleteMany(ctx, k.coll,
		bson.M{"gid": gid, "version": bson.M{"$lt": keep}})
}

func (k *KeyVersionMgo) GroupIDs(ctx context.Context) ([]int64, error) {
	res, err := k.coll.Distinct(ctx, "gid", bson.M{})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	gids := make([]int64, 0, len(res))
	for _, v := range res {
		if gid, ok := v.(int64); ok {
			gids = append(gids, gid)
		}
	}
	return gids, nil
}
