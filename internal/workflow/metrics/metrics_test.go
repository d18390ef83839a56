package metrics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"mailagent/internal/campaign"
	logx "mailagent/pkg/logx"
)

type fakeRegistry struct {
	campaigns []campaign.Campaign
	err       error
}

func (r *fakeRegistry) Upsert(context.Context, *campaign.Campaign) error { return nil }
func (r *fakeRegistry) Get(_ context.Context, name string) (*campaign.Campaign, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i := range r.campaigns {
		if r.campaigns[i].Name == name {
			return &r.campaigns[i], nil
		}
	}
	return nil, campaign.ErrNotFound
}
func (r *fakeRegistry) List(context.Context) ([]campaign.Campaign, error) {
	return r.campaigns, r.err
}
func (r *fakeRegistry) SetStatus(context.Context, string, campaign.Status) error { return nil }
func (r *fakeRegistry) SetTargets(context.Context, string, campaign.Targets) error { return nil }

type fakeLogStore struct {
	stats map[string]campaign.LogStats
}

func (s *fakeLogStore) Insert(context.Context, campaign.EmailLog) error { return nil }
func (s *fakeLogStore) ListByCampaign(context.Context, string) ([]campaign.EmailLog, error) {
	return nil, nil
}
func (s *fakeLogStore) CampaignStats(_ context.Context, name string) (campaign.LogStats, error) {
	return s.stats[name], nil
}
func (s *fakeLogStore) AllCampaignStats(context.Context) (map[string]campaign.LogStats, error) {
	return s.stats, nil
}

func sentStats(sent, failed, opened, clicked int64) campaign.LogStats {
	return campaign.LogStats{
		ByStatus: map[campaign.LogStatus]int64{
			campaign.LogSent:   sent,
			campaign.LogFailed: failed,
		},
		Opened:  opened,
		Clicked: clicked,
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCampaignStatusRates(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{campaigns: []campaign.Campaign{{
		Name:    "spring",
		Title:   "Spring Fair",
		Status:  campaign.StatusActive,
		Targets: campaign.Targets{TotalEmailsSent: 200},
	}}}
	logs := &fakeLogStore{stats: map[string]campaign.LogStats{
		"spring": sentStats(100, 5, 40, 10),
	}}
	next := time.Now().Add(time.Hour)
	a := NewAggregator(reg, logs, func(string) (time.Time, bool) { return next, true }, logx.Nop())

	st, err := a.CampaignStatus(context.Background(), "spring")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.EmailsSent != 100 || st.EmailsFailed != 5 {
		t.Fatalf("sent=%d failed=%d", st.EmailsSent, st.EmailsFailed)
	}
	if !almostEqual(st.OpenRate, 0.4) || !almostEqual(st.ClickRate, 0.1) {
		t.Fatalf("open=%v click=%v", st.OpenRate, st.ClickRate)
	}
	if !almostEqual(st.Progress, 50.0) {
		t.Fatalf("progress = %v, want 50", st.Progress)
	}
	if st.NextAction == nil || !st.NextAction.Equal(next) {
		t.Fatalf("next action = %v, want %v", st.NextAction, next)
	}
}

func TestCampaignStatusZeroSends(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{campaigns: []campaign.Campaign{{Name: "idle", Status: campaign.StatusScheduled}}}
	a := NewAggregator(reg, &fakeLogStore{stats: map[string]campaign.LogStats{}}, nil, logx.Nop())

	st, err := a.CampaignStatus(context.Background(), "idle")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.OpenRate != 0 || st.ClickRate != 0 || st.Progress != 0 {
		t.Fatalf("expected all-zero rates, got %+v", st)
	}
	if st.NextAction != nil {
		t.Fatal("next action set without a scheduler")
	}
}

func TestCampaignStatusUnknownCampaign(t *testing.T) {
	t.Parallel()
	a := NewAggregator(&fakeRegistry{}, &fakeLogStore{}, nil, logx.Nop())
	_, err := a.CampaignStatus(context.Background(), "ghost")
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDashboardExcludesZeroSendCampaignsFromAverages(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{campaigns: []campaign.Campaign{
		{Name: "a", Status: campaign.StatusActive},
		{Name: "b", Status: campaign.StatusActive},
		{Name: "idle", Status: campaign.StatusScheduled},
	}}
	logs := &fakeLogStore{stats: map[string]campaign.LogStats{
		"a": sentStats(100, 0, 50, 20), // open 0.5, click 0.2
		"b": sentStats(100, 0, 30, 0),  // open 0.3, click 0.0
	}}
	a := NewAggregator(reg, logs, nil, logx.Nop())

	d, err := a.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.TotalCampaigns != 3 {
		t.Fatalf("total = %d", d.TotalCampaigns)
	}
	if d.ByStatus[campaign.StatusActive] != 2 || d.ByStatus[campaign.StatusScheduled] != 1 {
		t.Fatalf("by status = %+v", d.ByStatus)
	}
	if d.TotalSent != 200 {
		t.Fatalf("total sent = %d", d.TotalSent)
	}
	// "idle" sent nothing and must not drag the averages down.
	if !almostEqual(d.AvgOpenRate, 0.4) {
		t.Fatalf("avg open = %v, want 0.4", d.AvgOpenRate)
	}
	if !almostEqual(d.AvgClickRate, 0.1) {
		t.Fatalf("avg click = %v, want 0.1", d.AvgClickRate)
	}
}

func TestPendingCountsAreProjected(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{campaigns: []campaign.Campaign{
		{Name: "a", Status: campaign.StatusActive},
		{Name: "b", Status: campaign.StatusActive},
	}}
	logs := &fakeLogStore{stats: map[string]campaign.LogStats{
		"a": {ByStatus: map[campaign.LogStatus]int64{campaign.LogSent: 10, campaign.LogPending: 4}},
		"b": {ByStatus: map[campaign.LogStatus]int64{campaign.LogPending: 3, campaign.LogFailed: 1}},
	}}
	a := NewAggregator(reg, logs, nil, logx.Nop())

	st, err := a.CampaignStatus(context.Background(), "a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.EmailsPending != 4 {
		t.Fatalf("pending = %d, want 4", st.EmailsPending)
	}

	d, err := a.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.TotalPending != 7 {
		t.Fatalf("total pending = %d, want 7", d.TotalPending)
	}
	if d.TotalSent != 10 || d.TotalFailed != 1 {
		t.Fatalf("sent=%d failed=%d, want 10/1", d.TotalSent, d.TotalFailed)
	}
}

func TestDashboardEmptyFleet(t *testing.T) {
	t.Parallel()
	a := NewAggregator(&fakeRegistry{}, &fakeLogStore{}, nil, logx.Nop())
	d, err := a.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.TotalCampaigns != 0 || d.AvgOpenRate != 0 || d.AvgClickRate != 0 {
		t.Fatalf("expected zero dashboard, got %+v", d)
	}
}
