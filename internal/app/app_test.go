package app

import (
	"testing"

	"masivos/internal/campaign"
	"masivos/internal/config"
	"masivos/internal/eventbus"
	"masivos/internal/scheduler"
	logx "masivos/pkg/logx"
)

func TestApplySchedulesArmsRecurringRuns(t *testing.T) {
	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), bus,
		func(string, campaign.Options) {})
	sched.Start()
	t.Cleanup(sched.Stop)

	defaults := campaign.Options{CountryCode: "52", ContentMode: campaign.ContentText}
	applySchedules(sched, defaults, []config.ScheduleConfig{
		{Account: "principal", Cron: "0 9 * * 1-5"},
		{Account: "secundaria", Cron: "@daily", Mode: "attachments"},
		{Account: "principal", Cron: "cada hora"}, // rejected, rest still armed
	}, logx.Nop())

	pending := sched.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want the two valid schedules", len(pending))
	}
	accounts := map[string]bool{}
	for _, j := range pending {
		accounts[j.AccountID] = true
	}
	if !accounts["principal"] || !accounts["secundaria"] {
		t.Fatalf("armed accounts = %v", accounts)
	}
}

func TestValidateSchedules(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{Accounts: []string{"principal"}}
	}

	c := base()
	c.Campaign.Schedules = []config.ScheduleConfig{{Account: "principal", Cron: "*/10 * * * *"}}
	if err := validate(c); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	c = base()
	c.Campaign.Schedules = []config.ScheduleConfig{{Account: "principal", Cron: "61 * * * *"}}
	if err := validate(c); err == nil {
		t.Fatalf("out-of-range cron field accepted")
	}

	c = base()
	c.Campaign.Schedules = []config.ScheduleConfig{{Account: "   ", Cron: "@daily"}}
	if err := validate(c); err == nil {
		t.Fatalf("blank schedule account accepted")
	}
}
