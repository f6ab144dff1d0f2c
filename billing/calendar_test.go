package billing

import (
	"testing"
	"time"
)

func TestDueTodayIsNotOverdue(t *testing.T) {
	// GIVEN a pending item due today
	today := NewDate(2025, time.March, 15)

	// WHEN the sweep predicate is evaluated
	overdue := ShouldBeOverdue(StatusPending, today, today)

	// THEN the item is not yet overdue
	if overdue {
		t.Error("item due today must not be overdue")
	}
}

func TestDueYesterdayIsOverdue(t *testing.T) {
	// GIVEN a pending item due yesterday
	today := NewDate(2025, time.March, 15)
	due := today.AddDays(-1)

	// THEN the sweep flags it
	if !ShouldBeOverdue(StatusPending, due, today) {
		t.Error("item due yesterday must be overdue")
	}
}

func TestSweepOnlyTouchesPending(t *testing.T) {
	// GIVEN an old due date
	today := NewDate(2025, time.March, 15)
	due := today.AddDays(-30)

	// THEN only pending items transition
	for _, status := range []Status{StatusPaid, StatusOverdue, StatusCancelled} {
		if ShouldBeOverdue(status, due, today) {
			t.Errorf("sweep must not touch %s items", status)
		}
	}
}

func TestDaysOverdueSignConvention(t *testing.T) {
	today := NewDate(2025, time.March, 15)

	// Late item: positive
	if got := DaysOverdue(today.AddDays(-3), StatusOverdue, today); got != 3 {
		t.Errorf("3 days late: got %d", got)
	}
	// Future item: negative
	if got := DaysOverdue(today.AddDays(5), StatusPending, today); got != -5 {
		t.Errorf("5 days remaining: got %d", got)
	}
	// Due today: zero
	if got := DaysOverdue(today, StatusPending, today); got != 0 {
		t.Errorf("due today: got %d", got)
	}
	// Paid: always zero regardless of due date
	if got := DaysOverdue(today.AddDays(-10), StatusPaid, today); got != 0 {
		t.Errorf("paid item: got %d", got)
	}
}

func TestStatusForNewItem(t *testing.T) {
	today := NewDate(2025, time.March, 15)

	// Backfilled item with a past due date is born overdue
	if got := StatusForNewItem(today.AddDays(-1), today); got != StatusOverdue {
		t.Errorf("past due date: got %s", got)
	}
	// Due today or later starts pending
	if got := StatusForNewItem(today, today); got != StatusPending {
		t.Errorf("due today: got %s", got)
	}
	if got := StatusForNewItem(today.AddDays(30), today); got != StatusPending {
		t.Errorf("future due date: got %s", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusOverdue, true},
		{StatusPending, StatusCancelled, true},
		{StatusOverdue, StatusPaid, true},
		{StatusOverdue, StatusCancelled, true},
		{StatusOverdue, StatusPending, false},
		{StatusPaid, StatusCancelled, false},
		{StatusPaid, StatusPending, false},
		{StatusCancelled, StatusPaid, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.allowed {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestWithMonthYearOverflowNormalizesForward(t *testing.T) {
	// GIVEN the 31st replicated into a 30-day month
	d := NewDate(2025, time.January, 31)

	// WHEN moved to April
	moved := d.WithMonthYear(time.April, 2025)

	// THEN the date normalizes forward into May
	if moved.String() != "2025-05-01" {
		t.Errorf("expected 2025-05-01, got %s", moved)
	}
}

func TestDaysBetween(t *testing.T) {
	a := NewDate(2025, time.March, 1)
	b := NewDate(2025, time.March, 31)
	if got := DaysBetween(a, b); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
	if got := DaysBetween(b, a); got != -30 {
		t.Errorf("expected -30, got %d", got)
	}
}
