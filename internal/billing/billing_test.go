package billing

import "testing"

func TestCallFee_RoundsUpToIncrement(t *testing.T) {
	svc := NewService(Rate{Currency: "USD", RatePerMinuteMinor: 100, BillingIncrementSeconds: 60})

	cases := []struct {
		seconds int
		want    int64
	}{
		{0, 0},
		{-5, 0},
		{1, 100},
		{42, 100},
		{60, 100},
		{61, 200},
		{120, 200},
	}
	for _, c := range cases {
		if got := svc.CallFee(c.seconds); got != c.want {
			t.Fatalf("CallFee(%d) = %d, want %d", c.seconds, got, c.want)
		}
	}
}

func TestCallFee_MinimumBillableSeconds(t *testing.T) {
	svc := NewService(Rate{RatePerMinuteMinor: 50, MinimumBillableSeconds: 120, BillingIncrementSeconds: 60})
	if got := svc.CallFee(10); got != 100 {
		t.Fatalf("expected minimum of 2 billable minutes, got fee %d", got)
	}
}

func TestBillableSeconds(t *testing.T) {
	if got := billableSeconds(61, 0, 60); got != 120 {
		t.Fatalf("expected 120, got %d", got)
	}
	if got := billableSeconds(59, 0, 30); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
	if got := billableSeconds(30, 60, 60); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
}
