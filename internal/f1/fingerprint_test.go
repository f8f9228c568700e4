package f1

import (
	"testing"
	"time"
)

func snapshot() *RaceWeekend {
	return &RaceWeekend{
		MeetingKey:  1260,
		RaceName:    "Dutch Grand Prix",
		CircuitName: "Zandvoort",
		Start:       time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		Year:        2026,
		Sessions: []Session{
			{SessionKey: 1, Name: "Qualifying",
				Start: time.Date(2026, 8, 29, 13, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)},
			{SessionKey: 2, Name: "Race",
				Start: time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)},
		},
	}
}

func TestFingerprintStable(t *testing.T) {
	if Fingerprint(snapshot()) != Fingerprint(snapshot()) {
		t.Fatal("identical snapshots fingerprint differently")
	}
}

func TestFingerprintIgnoresWeather(t *testing.T) {
	a := snapshot()
	b := snapshot()
	b.Weather = &Weather{AirTemp: 30, Rainfall: true}

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("weather changed the fingerprint")
	}
}

func TestFingerprintChangesWithSchedule(t *testing.T) {
	a := snapshot()
	b := snapshot()
	b.Sessions[1].Start = b.Sessions[1].Start.Add(time.Hour)

	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("schedule change did not change the fingerprint")
	}
}

func TestFingerprintPrefersProvidedHash(t *testing.T) {
	a := snapshot()
	a.DataHash = "edge-cache-hash"

	if got := Fingerprint(a); got != "edge-cache-hash" {
		t.Fatalf("Fingerprint = %q, want edge-cache-hash", got)
	}
}
