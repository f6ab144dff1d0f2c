package billing

import (
	"testing"
)

func TestSplitInstallmentsRemainderOnLast(t *testing.T) {
	// GIVEN a total that does not divide evenly
	total := NewMoneyFromFloat(100)

	// WHEN split into 3 parts
	parts := SplitInstallments(total, 3)

	// THEN the first parts are the rounded quotient and the last absorbs
	// the remainder
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if parts[0].String() != "33.33" || parts[1].String() != "33.33" {
		t.Errorf("expected 33.33 for the even parts, got %s and %s", parts[0], parts[1])
	}
	if parts[2].String() != "33.34" {
		t.Errorf("expected 33.34 for the last part, got %s", parts[2])
	}

	// AND the parts sum back to the total exactly
	sum := Zero()
	for _, p := range parts {
		sum = sum.Add(p)
	}
	if !sum.Equal(total) {
		t.Errorf("parts sum to %s, expected %s", sum, total)
	}
}

func TestSplitInstallmentsEvenDivision(t *testing.T) {
	// GIVEN a total that divides evenly
	total := NewMoneyFromFloat(8500)

	// WHEN split into 10 parts
	parts := SplitInstallments(total, 10)

	// THEN every part is identical
	for i, p := range parts {
		if p.String() != "850.00" {
			t.Errorf("part %d: expected 850.00, got %s", i, p)
		}
	}
}

func TestSplitInstallmentsSinglePart(t *testing.T) {
	// GIVEN any total
	total := NewMoneyFromFloat(123.45)

	// WHEN split into 1 part
	parts := SplitInstallments(total, 1)

	// THEN the single part is the whole total
	if len(parts) != 1 || !parts[0].Equal(total) {
		t.Errorf("expected [%s], got %v", total, parts)
	}
}

func TestSplitInstallmentsConservationSweep(t *testing.T) {
	// GIVEN a range of awkward totals and part counts
	totals := []string{"0.01", "0.10", "99.99", "1000.00", "333.33"}
	for _, raw := range totals {
		total := MustMoney(raw)
		for n := 1; n <= 12; n++ {
			// WHEN split
			parts := SplitInstallments(total, n)

			// THEN the sum is always exact
			sum := Zero()
			for _, p := range parts {
				sum = sum.Add(p)
			}
			if !sum.Equal(total) {
				t.Errorf("split %s into %d: sum %s", total, n, sum)
			}
		}
	}
}

func TestMoneyStringFormatsTwoDecimals(t *testing.T) {
	if got := NewMoneyFromInt(7).String(); got != "7.00" {
		t.Errorf("expected 7.00, got %s", got)
	}
	if got := NewMoneyFromFloat(7.5).String(); got != "7.50" {
		t.Errorf("expected 7.50, got %s", got)
	}
}

func TestParseMoneyRoundTrip(t *testing.T) {
	m, err := ParseMoney("149.90")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.String() != "149.90" {
		t.Errorf("expected 149.90, got %s", m)
	}
}
