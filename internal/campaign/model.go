package campaign

import "time"

// Status is the campaign lifecycle state. Transitions are externally driven:
// no stage firing ever auto-advances a campaign's status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Stage is one of the four email types in a campaign workflow.
type Stage string

const (
	StageInvite   Stage = "invite"
	StageReminder Stage = "reminder"
	StageThankYou Stage = "thank_you"
	StageFollowUp Stage = "follow_up"
)

// Stages returns all workflow stages in plan order.
func Stages() []Stage {
	return []Stage{StageInvite, StageReminder, StageThankYou, StageFollowUp}
}

// WorkflowPlan holds one optional trigger timestamp per stage.
// A nil stage means "this campaign does not send that email type".
type WorkflowPlan struct {
	Invite   *time.Time `bson:"invite" json:"invite,omitempty"`
	Reminder *time.Time `bson:"reminder" json:"reminder,omitempty"`
	ThankYou *time.Time `bson:"thank_you" json:"thank_you,omitempty"`
	FollowUp *time.Time `bson:"follow_up" json:"follow_up,omitempty"`
}

// At returns the trigger time planned for the given stage (nil if unplanned).
func (p WorkflowPlan) At(stage Stage) *time.Time {
	switch stage {
	case StageInvite:
		return p.Invite
	case StageReminder:
		return p.Reminder
	case StageThankYou:
		return p.ThankYou
	case StageFollowUp:
		return p.FollowUp
	default:
		return nil
	}
}

// Targets are the campaign's goals. Rates are fractions in [0, 1].
type Targets struct {
	TotalRegistrations int     `bson:"total_registrations" json:"total_registrations"`
	TotalEmailsSent    int     `bson:"total_emails_sent" json:"total_emails_sent"`
	OpenRateTarget     float64 `bson:"open_rate_target" json:"open_rate_target"`
	ClickRateTarget    float64 `bson:"click_rate_target" json:"click_rate_target"`
}

// Campaign is the persisted campaign record, keyed by Name (unique index).
type Campaign struct {
	Name        string       `bson:"name" json:"name"`
	Title       string       `bson:"title" json:"title"`
	Description string       `bson:"description,omitempty" json:"description,omitempty"`
	Status      Status       `bson:"status" json:"status"`
	Plan        WorkflowPlan `bson:"workflow_plan" json:"workflow_plan"`
	Targets     Targets      `bson:"targets" json:"targets"`
	Segments    []string     `bson:"segments,omitempty" json:"segments,omitempty"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
	CreatedBy   string       `bson:"created_by,omitempty" json:"created_by,omitempty"`
}

// LogStatus is the delivery/engagement state of a single send attempt.
type LogStatus string

const (
	LogPending LogStatus = "pending"
	LogSent    LogStatus = "sent"
	LogFailed  LogStatus = "failed"
	LogBounced LogStatus = "bounced"
	LogOpened  LogStatus = "opened"
	LogClicked LogStatus = "clicked"
	LogReplied LogStatus = "replied"
)

// EmailLog is one row per (recipient, stage) send attempt. Rows are immutable
// once written except for externally-triggered engagement updates.
//
// Opened/Clicked stay false unless an external engagement tracker writes
// them; the aggregator reads them but nothing in this repo sets them.
type EmailLog struct {
	CampaignName string    `bson:"campaign_name" json:"campaign_name"`
	Email        string    `bson:"email" json:"email"`
	Stage        Stage     `bson:"stage" json:"stage"`
	Status       LogStatus `bson:"status" json:"status"`
	Opened       bool      `bson:"opened" json:"opened"`
	Clicked      bool      `bson:"clicked" json:"clicked"`
	Timestamp    time.Time `bson:"timestamp" json:"timestamp"`
	MessageID    string    `bson:"message_id,omitempty" json:"message_id,omitempty"`
	ErrorMessage string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	RetryCount   int       `bson:"retry_count" json:"retry_count"`
}
