package profiles

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	minLevel        = 1
	maxLevel        = 10
	pointsPerLevel  = 100
	timestampLayout = time.RFC3339Nano
)

// Profile is the display and metadata record of a forum user.
type Profile struct {
	ID          string    `json:"id"`                   // Same value as the owning Identity
	Username    string    `json:"username"`             // Display name
	Email       string    `json:"email,omitempty"`      // Only present for the signed in user
	AvatarURL   string    `json:"avatar_url"`           // URL or data URI
	TotalPoints int       `json:"total_points"`         // Forum point balance
	Level       int       `json:"level"`                // Derived from points by the backend
	Role        string    `json:"role,omitempty"`       // "user", "moderator", ...
	CreatedAt   Timestamp `json:"created_at"`           // Account creation time
}

// LevelFor is the forum's level rule: one level per hundred points, 1..10.
func LevelFor(totalPoints int) int {
	level := 1 + totalPoints/pointsPerLevel
	if level < minLevel {
		return minLevel
	}
	if level > maxLevel {
		return maxLevel
	}
	return level
}

// Normalize fills derived fields a partial record may be missing.
func (p *Profile) Normalize() {
	if p.TotalPoints < 0 {
		p.TotalPoints = 0
	}
	if p.Level <= 0 {
		p.Level = LevelFor(p.TotalPoints)
	}
	if p.Role == "" {
		p.Role = "user"
	}
}

// Clone returns a copy; Profiles handed to callers are never shared.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Timestamp is a time that accepts the layouts the backend and the provider's
// record store emit: RFC 3339, and ISO 8601 without a zone (read as UTC).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func ParseTimestamp(value string) (Timestamp, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
