package campaign

import "testing"

func TestLogStatsCounters(t *testing.T) {
	t.Parallel()
	s := LogStats{
		ByStatus: map[LogStatus]int64{
			LogSent:   10,
			LogFailed: 2,
		},
		Opened:  4,
		Clicked: 1,
	}
	if s.Count(LogSent) != 10 || s.Count(LogFailed) != 2 {
		t.Fatalf("counts = %d/%d", s.Count(LogSent), s.Count(LogFailed))
	}
	if s.Count(LogBounced) != 0 {
		t.Fatal("absent status should count zero")
	}
	if s.Total() != 12 {
		t.Fatalf("total = %d", s.Total())
	}

	var zero LogStats
	if zero.Count(LogSent) != 0 || zero.Total() != 0 {
		t.Fatal("zero value not safe")
	}
}
