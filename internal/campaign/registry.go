package campaign

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mailagent/internal/docstore"
	logx "mailagent/pkg/logx"
)

// Registry is CRUD over campaign records. All writes are upserts keyed by
// campaign name; the backing collection enforces at most one record per name.
type Registry interface {
	// Upsert replaces the whole campaign document (last write wins, never a
	// field-by-field merge), creating it if absent.
	Upsert(ctx context.Context, c *Campaign) error
	Get(ctx context.Context, name string) (*Campaign, error)
	List(ctx context.Context) ([]Campaign, error)
	SetStatus(ctx context.Context, name string, status Status) error
	SetTargets(ctx context.Context, name string, targets Targets) error
}

type mongoRegistry struct {
	coll *mongo.Collection
	log  logx.Logger
}

func NewRegistry(store *docstore.Store, log logx.Logger) Registry {
	return &mongoRegistry{
		coll: store.Collection(docstore.CollCampaigns),
		log:  log.With(logx.String("component", "registry")),
	}
}

func (r *mongoRegistry) Upsert(ctx context.Context, c *Campaign) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	// Single atomic document replace keyed by name: readers never observe a
	// half-written campaign.
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"name": c.Name},
		c,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storageErr("upsert campaign", err)
	}
	r.log.Debug("campaign upserted", logx.String("campaign", c.Name), logx.String("status", string(c.Status)))
	return nil
}

func (r *mongoRegistry) Get(ctx context.Context, name string) (*Campaign, error) {
	var c Campaign
	err := r.coll.FindOne(ctx, bson.M{"name": name}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get campaign", err)
	}
	return &c, nil
}

func (r *mongoRegistry) List(ctx context.Context) ([]Campaign, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, storageErr("list campaigns", err)
	}
	defer cur.Close(ctx)

	var out []Campaign
	if err := cur.All(ctx, &out); err != nil {
		return nil, storageErr("list campaigns", err)
	}
	return out, nil
}

func (r *mongoRegistry) SetStatus(ctx context.Context, name string, status Status) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return storageErr("set status", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRegistry) SetTargets(ctx context.Context, name string, targets Targets) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"targets": targets, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return storageErr("set targets", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
