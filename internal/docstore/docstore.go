// Package docstore wraps the MongoDB connection shared by the campaign
// registry, the email log store and the contact directory.
//
// The scheduler core assumes unique-key enforcement on campaigns.name and
// contacts.email at this layer; EnsureIndexes installs both.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mailagent/internal/config"
	logx "mailagent/pkg/logx"
)

const (
	CollCampaigns = "campaigns"
	CollEmailLogs = "email_logs"
	CollContacts  = "contacts"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    logx.Logger
}

// Connect dials the configured deployment and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DocStoreConfig, log logx.Logger) (*Store, error) {
	timeout, err := config.ParseDurationOrDefault("docstore.connect_timeout", cfg.ConnectTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("docstore connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore ping: %w", err)
	}

	db := cfg.Database
	if db == "" {
		db = "email_agent"
	}
	s := &Store{client: client, db: client.Database(db), log: log}
	log.Info("document store connected", logx.String("database", db))
	return s, nil
}

func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes installs the unique keys the registry and directory rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := s.Collection(CollCampaigns).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return fmt.Errorf("campaigns.name index: %w", err)
	}

	_, err = s.Collection(CollContacts).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return fmt.Errorf("contacts.email index: %w", err)
	}

	_, err = s.Collection(CollEmailLogs).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "campaign_name", Value: 1}, {Key: "stage", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("email_logs index: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
