package contact

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mailagent/internal/docstore"
)

type mongoDirectory struct {
	coll *mongo.Collection
}

func NewDirectory(store *docstore.Store) Directory {
	return &mongoDirectory{coll: store.Collection(docstore.CollContacts)}
}

func (d *mongoDirectory) BySegment(ctx context.Context, tag string) ([]Contact, error) {
	return d.find(ctx, bson.M{"tags": tag})
}

func (d *mongoDirectory) All(ctx context.Context) ([]Contact, error) {
	return d.find(ctx, bson.M{})
}

func (d *mongoDirectory) find(ctx context.Context, filter bson.M) ([]Contact, error) {
	cur, err := d.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("contact find: %w", err)
	}
	defer cur.Close(ctx)

	var out []Contact
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("contact decode: %w", err)
	}
	return out, nil
}
