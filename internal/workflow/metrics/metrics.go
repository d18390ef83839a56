// Package metrics aggregates campaign delivery and engagement numbers from
// the email log into per-campaign status reports and a cross-campaign
// dashboard.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mailagent/internal/campaign"
	logx "mailagent/pkg/logx"
)

// NextTriggerFunc reports the earliest pending trigger for a campaign.
// Typically scheduler.Engine.NextTrigger.
type NextTriggerFunc func(name string) (time.Time, bool)

// CampaignStatus is the per-campaign report.
type CampaignStatus struct {
	Name          string          `json:"name"`
	Title         string          `json:"title"`
	Status        campaign.Status `json:"status"`
	EmailsSent    int64           `json:"emails_sent"`
	EmailsPending int64           `json:"emails_pending"`
	EmailsFailed  int64           `json:"emails_failed"`
	Opened        int64           `json:"opened"`
	Clicked       int64           `json:"clicked"`
	OpenRate      float64         `json:"open_rate"`
	ClickRate     float64         `json:"click_rate"`
	Progress      float64         `json:"progress_pct"`
	NextAction    *time.Time      `json:"next_scheduled_action,omitempty"`
}

// Dashboard is the cross-campaign summary.
type Dashboard struct {
	TotalCampaigns int                     `json:"total_campaigns"`
	ByStatus       map[campaign.Status]int `json:"by_status"`
	TotalSent      int64                   `json:"total_emails_sent"`
	TotalPending   int64                   `json:"total_emails_pending"`
	TotalFailed    int64                   `json:"total_emails_failed"`
	AvgOpenRate    float64                 `json:"avg_open_rate"`
	AvgClickRate   float64                 `json:"avg_click_rate"`
	Campaigns      []CampaignStatus        `json:"campaigns"`
}

// Aggregator computes reports. It holds no state of its own; every call
// reads the registry and log store fresh.
type Aggregator struct {
	registry campaign.Registry
	logs     campaign.LogStore
	next     NextTriggerFunc
	log      logx.Logger
}

func NewAggregator(registry campaign.Registry, logs campaign.LogStore, next NextTriggerFunc, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if next == nil {
		next = func(string) (time.Time, bool) { return time.Time{}, false }
	}
	return &Aggregator{registry: registry, logs: logs, next: next, log: log.With(logx.String("component", "metrics"))}
}

// CampaignStatus builds the report for one campaign. A campaign with no log
// rows yet reports zero counts and 0.0 rates.
func (a *Aggregator) CampaignStatus(ctx context.Context, name string) (*CampaignStatus, error) {
	c, err := a.registry.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("metrics: load campaign %q: %w", name, err)
	}
	stats, err := a.logs.CampaignStats(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("metrics: stats for %q: %w", name, err)
	}
	st := buildStatus(c, stats)
	if at, ok := a.next(name); ok {
		st.NextAction = &at
	}
	return &st, nil
}

// Dashboard builds the cross-campaign summary. Average rates are taken over
// campaigns that sent at least one email; zero-send campaigns would drag the
// averages to zero without saying anything about engagement.
func (a *Aggregator) Dashboard(ctx context.Context) (*Dashboard, error) {
	campaigns, err := a.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("metrics: list campaigns: %w", err)
	}
	allStats, err := a.logs.AllCampaignStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("metrics: aggregate stats: %w", err)
	}

	d := &Dashboard{
		TotalCampaigns: len(campaigns),
		ByStatus:       map[campaign.Status]int{},
	}
	var openSum, clickSum float64
	withSends := 0
	for i := range campaigns {
		c := &campaigns[i]
		d.ByStatus[c.Status]++
		st := buildStatus(c, allStats[c.Name])
		if at, ok := a.next(c.Name); ok {
			st.NextAction = &at
		}
		d.TotalSent += st.EmailsSent
		d.TotalPending += st.EmailsPending
		d.TotalFailed += st.EmailsFailed
		if st.EmailsSent > 0 {
			openSum += st.OpenRate
			clickSum += st.ClickRate
			withSends++
		}
		d.Campaigns = append(d.Campaigns, st)
	}
	if withSends > 0 {
		d.AvgOpenRate = openSum / float64(withSends)
		d.AvgClickRate = clickSum / float64(withSends)
	}
	sort.Slice(d.Campaigns, func(i, k int) bool { return d.Campaigns[i].Name < d.Campaigns[k].Name })
	return d, nil
}

func buildStatus(c *campaign.Campaign, stats campaign.LogStats) CampaignStatus {
	st := CampaignStatus{
		Name:          c.Name,
		Title:         c.Title,
		Status:        c.Status,
		EmailsSent:    stats.Count(campaign.LogSent),
		EmailsPending: stats.Count(campaign.LogPending),
		EmailsFailed:  stats.Count(campaign.LogFailed),
		Opened:        stats.Opened,
		Clicked:       stats.Clicked,
	}
	if st.EmailsSent > 0 {
		st.OpenRate = float64(st.Opened) / float64(st.EmailsSent)
		st.ClickRate = float64(st.Clicked) / float64(st.EmailsSent)
	}
	if target := c.Targets.TotalEmailsSent; target > 0 {
		st.Progress = float64(st.EmailsSent) / float64(target) * 100
	}
	return st
}
