package application

import "time"

// Clock dipakai semua service untuk timestamp report, sesi, dan lease.
type Clock interface {
	Now() time.Time
}

// SystemClock returns wall time in UTC so stored timestamps compare across backends.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
