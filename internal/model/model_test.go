package model

import (
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusDone, false},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},
		{StatusDone, StatusProcessing, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusDone, false},
		{"bogus", StatusDone, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusDone, StatusFailed, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StatusQueued, StatusProcessing} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestPayloadSources(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want int
	}{
		{"empty", Payload{}, 0},
		{"remote", Payload{RemoteURL: "https://example.com/r.git"}, 1},
		{"archive", Payload{Archive: []byte{1}}, 1},
		{"local", Payload{LocalPath: "/src"}, 1},
		{"two", Payload{RemoteURL: "https://example.com/r.git", LocalPath: "/src"}, 2},
	}
	for _, tt := range tests {
		if got := tt.p.Sources(); got != tt.want {
			t.Errorf("%s: Sources() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestJobCloneDetachesTimes(t *testing.T) {
	now := time.Now()
	j := &Job{ID: "a", StartedAt: &now}
	cp := j.Clone()
	*cp.StartedAt = now.Add(time.Hour)
	if !j.StartedAt.Equal(now) {
		t.Error("Clone shares StartedAt with the original")
	}
}

func TestBaselineEntryClone(t *testing.T) {
	e := BaselineEntry{Feature: "x", Browsers: map[string]string{BrowserChrome: BaselineSupported}}
	cp := e.Clone()
	cp.Browsers[BrowserChrome] = BaselineUnsupported
	if e.Browsers[BrowserChrome] != BaselineSupported {
		t.Error("Clone shares the Browsers map with the original")
	}
}
