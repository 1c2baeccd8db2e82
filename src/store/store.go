// Package store persists call records and transcripts. The orchestrator
// treats every store operation as fire-and-log: persistence failures must
// never abort a live call.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a call id does not exist.
var ErrNotFound = errors.New("store: call not found")

// TranscriptEntry is one conversational turn of a call.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CallMeta is the business metadata attached to an originated call.
type CallMeta struct {
	Phone      string `json:"phone"`
	LeadID     string `json:"leadId"`
	Step       string `json:"step"`
	WebhookURL string `json:"webhookUrl"`
	Context    string `json:"context"`
}

// Call is a persisted call record.
type Call struct {
	ID              string            `json:"id"`
	PhoneNumber     string            `json:"phoneNumber"`
	LeadID          string            `json:"leadId,omitempty"`
	Step            string            `json:"step,omitempty"`
	WebhookURL      string            `json:"-"`
	Context         string            `json:"context,omitempty"`
	Status          string            `json:"status"`
	CallResult      string            `json:"callResult,omitempty"`
	StartedAt       time.Time         `json:"startedAt"`
	AnsweredAt      *time.Time        `json:"answeredAt,omitempty"`
	EndedAt         *time.Time        `json:"endedAt,omitempty"`
	DurationSeconds int               `json:"durationSeconds"`
	EndReason       string            `json:"endReason,omitempty"`
	AudioPath       string            `json:"-"`
	Transcripts     []TranscriptEntry `json:"transcripts,omitempty"`
}

// Stats summarizes call volume for the dashboard.
type Stats struct {
	TotalCalls         int `json:"totalCalls"`
	ActiveCalls        int `json:"activeCalls"`
	TodayCalls         int `json:"todayCalls"`
	AvgDurationSeconds int `json:"avgDurationSeconds"`
}

// Store is the persistence contract consumed by the orchestrator and the
// REST façade.
type Store interface {
	CreateCall(ctx context.Context, id, phone string) error
	CreateCallWithMeta(ctx context.Context, id string, meta CallMeta) error
	SetAnsweredAt(ctx context.Context, id string, at time.Time) error
	UpdateCallResult(ctx context.Context, id, result string) error
	EndCall(ctx context.Context, id, reason string) error
	SetAudioPath(ctx context.Context, id, path string) error
	AddTranscript(ctx context.Context, id, role, content string) error

	GetCall(ctx context.Context, id string) (*Call, error)
	GetTranscripts(ctx context.Context, id string) ([]TranscriptEntry, error)
	CallHistory(ctx context.Context, page, limit int) ([]Call, int, error)
	ClearHistory(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)

	Close()
}
