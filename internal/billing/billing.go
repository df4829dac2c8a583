package billing

// Rate is the per-minute call rate applied when computing session fees.
type Rate struct {
	Currency           string
	RatePerMinuteMinor int64

	// MinimumBillableSeconds is charged even for shorter calls.
	MinimumBillableSeconds int
	// BillingIncrementSeconds rounds the duration up; zero means 60.
	BillingIncrementSeconds int
}

// Service computes call fees. Pure calculation, no provider calls.
type Service struct {
	rate Rate
}

func NewService(rate Rate) *Service { return &Service{rate: rate} }

// CallFee returns the fee in minor units for a call of the given duration.
// Zero-duration calls are free.
func (s *Service) CallFee(durationSeconds int) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	sec := billableSeconds(durationSeconds, s.rate.MinimumBillableSeconds, s.rate.BillingIncrementSeconds)
	return s.rate.RatePerMinuteMinor * int64(billableMinutesFromSeconds(sec))
}

func billableSeconds(actualSec, minSec, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	if sec%incrementSec != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
