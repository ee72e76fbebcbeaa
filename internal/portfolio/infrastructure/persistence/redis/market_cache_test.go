package redis

import (
	"errors"
	"testing"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
)

func TestParseSnapshotDecodesFields(t *testing.T) {
	snapshot, err := parseSnapshot("bitcoin", map[string]string{
		"current_price":  "45000.50",
		"usd_24h_change": "-6.85",
		"last_updated":   "2026-03-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snapshot.CurrentPrice.String() != "45000.5" {
		t.Errorf("price = %s, want 45000.5", snapshot.CurrentPrice)
	}
	if snapshot.Change24h != -6.85 {
		t.Errorf("change = %v, want -6.85", snapshot.Change24h)
	}
	if snapshot.LastUpdated != "2026-03-01T12:00:00Z" {
		t.Errorf("last updated = %s", snapshot.LastUpdated)
	}
}

func TestParseSnapshotMalformedPriceIsUnavailable(t *testing.T) {
	_, err := parseSnapshot("bitcoin", map[string]string{
		"current_price": "not-a-number",
	})
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestParseSnapshotMalformedChangeIsUnavailable(t *testing.T) {
	_, err := parseSnapshot("bitcoin", map[string]string{
		"current_price":  "45000.50",
		"usd_24h_change": "??",
	})
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}
