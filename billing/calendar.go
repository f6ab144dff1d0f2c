/*
calendar.go - Due-date and overdue policy

PURPOSE:
  The single place where "is this late?" is decided. Both engines consult
  these predicates for every date decision so the two sweeps and all
  creation-time status derivation agree on the same truncated-day rule.

THE RULE:
  An open item is overdue iff due_date < today, strictly. An item due today
  is NOT yet overdue. Comparison is whole-day: Date carries no partial-day
  component, so there are no time-of-day effects.
*/
package billing

// IsPast reports whether d is strictly before today.
func IsPast(d, today Date) bool {
	return d.Before(today)
}

// DaysOverdue returns how late an item is, in whole days.
// Positive = days late, negative = days remaining, 0 = due today or paid.
func DaysOverdue(due Date, status Status, today Date) int {
	if status == StatusPaid {
		return 0
	}
	return DaysBetween(due, today)
}

// ShouldBeOverdue is the sweep predicate: only pending items transition, and
// only once their due date has strictly passed. Overdue stays overdue and
// paid/cancelled are never touched, which makes the sweep monotonic and
// safe to re-run.
func ShouldBeOverdue(status Status, due, today Date) bool {
	return status == StatusPending && due.Before(today)
}

// StatusForNewItem derives the creation-time status of a charge or
// installment from its due date: items issued with a due date already in the
// past are born overdue (retroactive backfill), everything else pending.
func StatusForNewItem(due, today Date) Status {
	if IsPast(due, today) {
		return StatusOverdue
	}
	return StatusPending
}
