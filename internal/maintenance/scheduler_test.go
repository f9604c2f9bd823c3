package maintenance

import (
	"testing"

	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
)

func TestNew_RegistersJobs(t *testing.T) {
	store, err := audit.NewSQLStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	s, err := New(Config{AuditRetentionDays: 30}, limiter, audit.NewLogger(store, nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Errorf("registered jobs = %d, want 2", got)
	}

	s.Start()
	s.Stop()
}

func TestNew_SkipsDisabledJobs(t *testing.T) {
	s, err := New(Config{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.cron.Entries()); got != 0 {
		t.Errorf("registered jobs = %d, want 0", got)
	}
}
