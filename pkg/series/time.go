package series

import "time"

// Time is a sample timestamp in nanoseconds since the Unix epoch.
type Time int64

// TimeFromStd converts a time.Time to a sample timestamp.
func TimeFromStd(t time.Time) Time {
	return Time(t.UnixNano())
}

// Std converts a sample timestamp back to a time.Time.
func (t Time) Std() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// Add returns the timestamp shifted by d.
func (t Time) Add(d time.Duration) Time {
	return t + Time(d.Nanoseconds())
}
