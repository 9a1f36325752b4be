// Package dto holds the request and response bodies of the ledger HTTP API.
// The client validates outgoing bodies with the same tags the server
// enforces, so a payload rejected locally would also be rejected remotely.
package dto

type Timezone struct {
	Name          string `json:"name" validate:"max=64"`
	OffsetMinutes int    `json:"offsetMinutes" validate:"min=-720,max=840"`
}

// Span is one recorded interval inside an aggregate upsert. The server
// recomputes Duration from the bounds and clamps it to the session cap.
type Span struct {
	StartTime int64 `json:"startTime" validate:"gt=0"`
	EndTime   int64 `json:"endTime" validate:"gtfield=StartTime"`
	Duration  int64 `json:"duration" validate:"gte=0"`
}

type AggregateRequest struct {
	UserID    string   `json:"userId" validate:"required,max=128"`
	LocalDate string   `json:"localDate" validate:"required,localdate"`
	Domain    string   `json:"domain" validate:"required,domainname"`
	Category  string   `json:"category" validate:"max=64"`
	Timezone  Timezone `json:"timezone"`
	Sessions  []Span   `json:"sessions" validate:"required,min=1,max=500,dive"`
}

type AggregateResponse struct {
	UserID    string   `json:"userId"`
	LocalDate string   `json:"localDate"`
	Domain    string   `json:"domain"`
	Category  string   `json:"category"`
	TotalTime int64    `json:"totalTime"`
	Timezone  Timezone `json:"timezone"`
	Sessions  []Span   `json:"sessions"`
	UpdatedAt int64    `json:"updatedAt"`
	// Applied counts spans added by this request; spans the server had
	// already recorded are skipped.
	Applied int `json:"applied"`
}

type PauseEntry struct {
	PausedAt  int64  `json:"pausedAt" validate:"gt=0"`
	ResumedAt *int64 `json:"resumedAt,omitempty"`
	Reason    string `json:"reason,omitempty" validate:"max=256"`
}

type SessionRequest struct {
	UserID          string       `json:"userId" validate:"required,max=128"`
	ClientSessionID string       `json:"clientSessionId" validate:"required,max=64"`
	SessionType     string       `json:"sessionType" validate:"required,oneof=focus problem"`
	Status          string       `json:"status" validate:"required,oneof=active paused completed interrupted abandoned"`
	PlannedDuration int64        `json:"plannedDuration" validate:"gt=0"`
	StartTime       int64        `json:"startTime" validate:"gt=0"`
	EndTime         int64        `json:"endTime,omitempty" validate:"omitempty,gtfield=StartTime"`
	Duration        int64        `json:"duration" validate:"gte=0"`
	PausedDuration  int64        `json:"pausedDuration" validate:"gte=0"`
	PauseHistory    []PauseEntry `json:"pauseHistory" validate:"max=500,dive"`
	Notes           string       `json:"notes,omitempty" validate:"max=4000"`
	WasSuccessful   bool         `json:"wasSuccessful"`
	EndReason       string       `json:"endReason,omitempty" validate:"max=256"`
}

type SessionCreated struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type SessionPatch struct {
	Status         string       `json:"status" validate:"required,oneof=active paused completed interrupted abandoned"`
	EndTime        int64        `json:"endTime,omitempty" validate:"gte=0"`
	Duration       int64        `json:"duration" validate:"gte=0"`
	PausedDuration int64        `json:"pausedDuration" validate:"gte=0"`
	PauseHistory   []PauseEntry `json:"pauseHistory" validate:"max=500,dive"`
	Notes          string       `json:"notes,omitempty" validate:"max=4000"`
	WasSuccessful  bool         `json:"wasSuccessful"`
	EndReason      string       `json:"endReason,omitempty" validate:"max=256"`
}

type Session struct {
	SessionID       string       `json:"sessionId"`
	ClientSessionID string       `json:"clientSessionId"`
	UserID          string       `json:"userId"`
	SessionType     string       `json:"sessionType"`
	Status          string       `json:"status"`
	PlannedDuration int64        `json:"plannedDuration"`
	StartTime       int64        `json:"startTime"`
	EndTime         int64        `json:"endTime,omitempty"`
	Duration        int64        `json:"duration"`
	PausedDuration  int64        `json:"pausedDuration"`
	PauseHistory    []PauseEntry `json:"pauseHistory"`
	Notes           string       `json:"notes,omitempty"`
	WasSuccessful   bool         `json:"wasSuccessful"`
	EndReason       string       `json:"endReason,omitempty"`
	LocalDate       string       `json:"localDate"`
	UpdatedAt       int64        `json:"updatedAt"`
}

// SessionDay is the response of GET /api/v2/sessions/{userId}.
type SessionDay struct {
	UserID     string              `json:"userId"`
	LocalDate  string              `json:"localDate"`
	Timezone   Timezone            `json:"timezone"`
	Sessions   []Session           `json:"sessions"`
	Aggregates []AggregateResponse `json:"aggregates"`
	TotalTime  int64               `json:"totalTime"`
}
