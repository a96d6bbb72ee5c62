package filetime

import (
	"time"
)

// epochDelta is the count of 100ns intervals between the
// windows epoch (1601) and the unix epoch (1970).
const epochDelta = 116444736000000000

// Timestamp converts the time into filetime, the zero
// time and times before 1601 are mapped to zero.
func Timestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ticks := t.Unix()*1e7 + int64(t.Nanosecond()/100)
	ticks += epochDelta
	if ticks < 0 {
		return 0
	}
	return uint64(ticks)
}

// Time converts the filetime back into time, zero is
// mapped back to the zero time.
func Time(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - epochDelta
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}
