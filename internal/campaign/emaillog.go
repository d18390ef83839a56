package campaign

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mailagent/internal/docstore"
	logx "mailagent/pkg/logx"
)

// LogStats are the per-campaign aggregate counters the dashboards are
// computed from.
type LogStats struct {
	ByStatus map[LogStatus]int64
	Opened   int64
	Clicked  int64
}

func (s LogStats) Count(status LogStatus) int64 {
	if s.ByStatus == nil {
		return 0
	}
	return s.ByStatus[status]
}

func (s LogStats) Total() int64 {
	var n int64
	for _, c := range s.ByStatus {
		n += c
	}
	return n
}

// LogStore persists email delivery logs, one row per send attempt.
type LogStore interface {
	Insert(ctx context.Context, e EmailLog) error
	ListByCampaign(ctx context.Context, name string) ([]EmailLog, error)
	CampaignStats(ctx context.Context, name string) (LogStats, error)
	// AllCampaignStats aggregates stats for every campaign that has at least
	// one log row, keyed by campaign name.
	AllCampaignStats(ctx context.Context) (map[string]LogStats, error)
}

type mongoLogStore struct {
	coll *mongo.Collection
	log  logx.Logger
}

func NewLogStore(store *docstore.Store, log logx.Logger) LogStore {
	return &mongoLogStore{
		coll: store.Collection(docstore.CollEmailLogs),
		log:  log.With(logx.String("component", "emaillog")),
	}
}

func (s *mongoLogStore) Insert(ctx context.Context, e EmailLog) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = LogPending
	}
	if _, err := s.coll.InsertOne(ctx, e); err != nil {
		return storageErr("insert email log", err)
	}
	return nil
}

func (s *mongoLogStore) ListByCampaign(ctx context.Context, name string) ([]EmailLog, error) {
	cur, err := s.coll.Find(ctx, bson.M{"campaign_name": name})
	if err != nil {
		return nil, storageErr("list email logs", err)
	}
	defer cur.Close(ctx)

	var out []EmailLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, storageErr("list email logs", err)
	}
	return out, nil
}

// statsRow is one $group bucket: a (campaign, status) pair with counters.
type statsRow struct {
	ID struct {
		Campaign string    `bson:"campaign"`
		Status   LogStatus `bson:"status"`
	} `bson:"_id"`
	Count   int64 `bson:"count"`
	Opened  int64 `bson:"opened"`
	Clicked int64 `bson:"clicked"`
}

func statsPipeline(match bson.M) mongo.Pipeline {
	p := mongo.Pipeline{}
	if len(match) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: match}})
	}
	p = append(p, bson.D{{Key: "$group", Value: bson.M{
		"_id":     bson.M{"campaign": "$campaign_name", "status": "$status"},
		"count":   bson.M{"$sum": 1},
		"opened":  bson.M{"$sum": bson.M{"$cond": bson.A{"$opened", 1, 0}}},
		"clicked": bson.M{"$sum": bson.M{"$cond": bson.A{"$clicked", 1, 0}}},
	}}})
	return p
}

func (s *mongoLogStore) aggregate(ctx context.Context, match bson.M) (map[string]LogStats, error) {
	cur, err := s.coll.Aggregate(ctx, statsPipeline(match))
	if err != nil {
		return nil, storageErr("aggregate email logs", err)
	}
	defer cur.Close(ctx)

	var rows []statsRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storageErr("aggregate email logs", err)
	}

	out := map[string]LogStats{}
	for _, row := range rows {
		st := out[row.ID.Campaign]
		if st.ByStatus == nil {
			st.ByStatus = map[LogStatus]int64{}
		}
		st.ByStatus[row.ID.Status] += row.Count
		st.Opened += row.Opened
		st.Clicked += row.Clicked
		out[row.ID.Campaign] = st
	}
	return out, nil
}

func (s *mongoLogStore) CampaignStats(ctx context.Context, name string) (LogStats, error) {
	all, err := s.aggregate(ctx, bson.M{"campaign_name": name})
	if err != nil {
		return LogStats{}, err
	}
	return all[name], nil
}

func (s *mongoLogStore) AllCampaignStats(ctx context.Context) (map[string]LogStats, error) {
	return s.aggregate(ctx, nil)
}
