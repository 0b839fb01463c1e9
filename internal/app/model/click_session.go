package model

import "time"

// ClickSession groups a user's clicks until 30 minutes pass without activity.
type ClickSession struct {
	SessionID       string     `json:"sessionId" gorm:"primaryKey;size:64"`
	UserID          string     `json:"userId" gorm:"size:64;not null;index"`
	StartedAt       time.Time  `json:"startedAt" gorm:"not null"`
	LastActivityAt  time.Time  `json:"lastActivityAt" gorm:"not null;index"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"duration" gorm:"not null;default:0"`
	ClickCount      int64      `json:"clickCount" gorm:"not null;default:0"`
	ConversionCount int64      `json:"conversionCount" gorm:"not null;default:0"`
	TotalRevenue    float64    `json:"totalRevenue" gorm:"not null;default:0"`
	TotalCommission float64    `json:"totalCommission" gorm:"not null;default:0"`
	IsActive        bool       `json:"isActive" gorm:"not null;default:true"`
}

func (ClickSession) TableName() string {
	return "click_sessions"
}

// IdleSince reports whether the session has seen no activity for at least ttl.
func (s *ClickSession) IdleSince(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.LastActivityAt.Add(ttl))
}

// Close marks the session as ended at the given instant.
func (s *ClickSession) Close(at time.Time) {
	if !s.IsActive {
		return
	}
	s.IsActive = false
	ended := at
	s.EndedAt = &ended
	s.DurationSeconds = int64(at.Sub(s.StartedAt) / time.Second)
}

// SessionDelta describes counter increments applied to a session.
type SessionDelta struct {
	Clicks      int64
	Conversions int64
	Revenue     float64
	Commission  float64
}

// Apply adds delta to the session counters. Negative click deltas are ignored
// so the click count never decreases.
func (s *ClickSession) Apply(delta SessionDelta) {
	if delta.Clicks > 0 {
		s.ClickCount += delta.Clicks
	}
	s.ConversionCount += delta.Conversions
	s.TotalRevenue += delta.Revenue
	s.TotalCommission += delta.Commission
}
