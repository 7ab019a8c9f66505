package tablesession

import (
	"testing"
	"time"
)

func TestExpiresAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		maxAge     time.Duration
		defaultTTL time.Duration
		want       time.Time
		ok         bool
	}{
		{"payload lifetime", 10 * time.Minute, 0, now.Add(10 * time.Minute), true},
		{"payload lifetime wins", 10 * time.Minute, time.Hour, now.Add(10 * time.Minute), true},
		{"default ttl", 0, 30 * time.Minute, now.Add(30 * time.Minute), true},
		{"negative lifetime uses default", -time.Second, time.Hour, now.Add(time.Hour), true},
		{"no expiry", 0, 0, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExpiresAt(now, tt.maxAge, tt.defaultTTL)
			if ok != tt.ok || !got.Equal(tt.want) {
				t.Errorf("ExpiresAt() = %v, %v, want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRecordExpiredAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if (Record{}).ExpiredAt(now) {
		t.Error("record without expiry reported expired")
	}
	if !(Record{ExpiresAt: now}).ExpiredAt(now) {
		t.Error("record expiring now not reported expired")
	}
	if (Record{ExpiresAt: now.Add(time.Second)}).ExpiredAt(now) {
		t.Error("live record reported expired")
	}
}
