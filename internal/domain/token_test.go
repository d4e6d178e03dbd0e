package domain

import (
	"testing"
	"time"
)

func TestTokenIsExpired(t *testing.T) {
	issuedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	token := Token{Value: "483920", IssuedAt: issuedAt, Valid: true}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{
			name: "fresh token is live",
			now:  issuedAt.Add(5 * time.Second),
			want: false,
		},
		{
			name: "exactly at the window boundary is still live",
			now:  issuedAt.Add(60 * time.Second),
			want: false,
		},
		{
			name: "one second past the window is expired",
			now:  issuedAt.Add(61 * time.Second),
			want: true,
		},
		{
			name: "expiry is independent of the valid flag",
			now:  issuedAt.Add(10 * time.Minute),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := token.IsExpired(tt.now); got != tt.want {
				t.Fatalf("IsExpired(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestTokenSecondsRemaining(t *testing.T) {
	issuedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	token := Token{Value: "483920", IssuedAt: issuedAt, Valid: true}

	if got := token.SecondsRemaining(issuedAt); got != 60 {
		t.Fatalf("expected 60 seconds remaining at issuance, got %d", got)
	}
	if got := token.SecondsRemaining(issuedAt.Add(45 * time.Second)); got != 15 {
		t.Fatalf("expected 15 seconds remaining, got %d", got)
	}
	if got := token.SecondsRemaining(issuedAt.Add(2 * time.Minute)); got != 0 {
		t.Fatalf("expected remaining lifetime clamped at zero, got %d", got)
	}
}
