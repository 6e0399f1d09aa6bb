package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobInvalidSpec(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron spec", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression, got nil")
	}
}

func TestAddReminderSweep(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddReminderSweep(func() {}); err != nil {
		t.Errorf("Expected no error scheduling sweep, got %v", err)
	}
}
