package timezone_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sitewatch/monitor/internal/timezone"
)

func newResolver() *timezone.Resolver {
	return timezone.NewResolver(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolve_IANAIdentifier(t *testing.T) {
	r := newResolver()
	loc := r.Resolve("Europe/Berlin")
	if loc.String() != "Europe/Berlin" {
		t.Errorf("Resolve(Europe/Berlin) = %v", loc)
	}
}

func TestResolve_EmptyAndUTC(t *testing.T) {
	r := newResolver()
	if r.Resolve("") != time.UTC {
		t.Error("empty id should resolve to UTC")
	}
	if r.Resolve("UTC") != time.UTC {
		t.Error("UTC id should resolve to UTC")
	}
}

func TestResolve_WindowsZoneName(t *testing.T) {
	r := newResolver()
	cases := map[string]string{
		"W. Europe Standard Time":      "Europe/Berlin",
		"GMT Standard Time":            "Europe/London",
		"Eastern Standard Time":        "America/New_York",
		"Pacific Standard Time":        "America/Los_Angeles",
		"China Standard Time":          "Asia/Shanghai",
		"AUS Eastern Standard Time":    "Australia/Sydney",
		"Central Europe Standard Time": "Europe/Budapest",
	}
	for win, iana := range cases {
		if loc := r.Resolve(win); loc.String() != iana {
			t.Errorf("Resolve(%q) = %v, want %s", win, loc, iana)
		}
	}
}

func TestResolve_UnknownFallsBackToUTC(t *testing.T) {
	r := newResolver()
	if loc := r.Resolve("Mars/Olympus_Mons"); loc != time.UTC {
		t.Errorf("Resolve(unknown) = %v, want UTC", loc)
	}
}

func TestResolve_CachesLocations(t *testing.T) {
	r := newResolver()
	a := r.Resolve("Europe/Berlin")
	b := r.Resolve("Europe/Berlin")
	if a != b {
		t.Error("repeated Resolve returned different Location pointers")
	}
}

func TestToLocal_ToUTC_RoundTrip(t *testing.T) {
	r := newResolver()
	loc := r.Resolve("Europe/Berlin")

	utc := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	local := timezone.ToLocal(utc, loc)
	if local.Hour() != 10 {
		t.Errorf("Berlin winter local hour = %d, want 10", local.Hour())
	}

	back := timezone.ToUTC(local, loc)
	if !back.Equal(utc) {
		t.Errorf("round trip = %v, want %v", back, utc)
	}
}

func TestToUTC_SummerTime(t *testing.T) {
	r := newResolver()
	loc := r.Resolve("Europe/Berlin")

	// 10:00 Berlin wall clock in July is 08:00 UTC (CEST, UTC+2).
	wall := time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC) // kind is ignored
	got := timezone.ToUTC(wall, loc)
	want := time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ToUTC = %v, want %v", got, want)
	}
}
