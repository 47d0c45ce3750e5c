package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// codeNamespaceExists is returned by create when the collection already exists.
const codeNamespaceExists = 48

// Indexes returns the index models backing the primary key and the three
// global projections. Projection indexes are sparse: only entities that carry
// the projection's partition key appear in it.
func Indexes() []mongo.IndexModel {
	projection := func(name, pk, sk string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys: bson.D{{Key: pk, Value: 1}, {Key: sk, Value: 1}},
			Options: options.Index().
				SetName(name).
				SetPartialFilterExpression(bson.D{{Key: pk, Value: bson.D{{Key: "$exists", Value: true}}}}),
		}
	}
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: fieldPK, Value: 1}, {Key: fieldSK, Value: 1}},
			Options: options.Index().SetName("pk_sk").SetUnique(true),
		},
		projection("gs1", fieldGS1PK, fieldGS1SK),
		projection("gs2", fieldGS2PK, fieldGS2SK),
		projection("gs3", fieldGS3PK, fieldGS3SK),
	}
}

// EnsureSchema creates the collection if needed, enables change stream
// pre-images on it and creates the indexes. It is idempotent.
func EnsureSchema(ctx context.Context, coll *mongo.Collection) error {
	db := coll.Database()
	if err := db.CreateCollection(ctx, coll.Name()); err != nil {
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Code != codeNamespaceExists {
			return fmt.Errorf("create collection %s: %w", coll.Name(), err)
		}
	}

	cmd := bson.D{
		{Key: "collMod", Value: coll.Name()},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("enable pre-images on %s: %w", coll.Name(), err)
	}

	if _, err := coll.Indexes().CreateMany(ctx, Indexes()); err != nil {
		return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
	}
	return nil
}
