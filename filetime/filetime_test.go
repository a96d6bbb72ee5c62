package filetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimestamp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(0), Timestamp(time.Time{}))
	assert.Equal(uint64(epochDelta), Timestamp(time.Unix(0, 0)))
	assert.Equal(uint64(epochDelta+1), Timestamp(time.Unix(0, 100)))
	assert.Equal(uint64(0), Timestamp(
		time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)))

	// 2001-09-09T01:46:40Z is unix 1e9.
	assert.Equal(uint64(epochDelta+1e16), Timestamp(
		time.Date(2001, 9, 9, 1, 46, 40, 0, time.UTC)))
}

func TestTimeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	assert.True(Time(0).IsZero())
	now := time.Date(2024, 2, 29, 13, 14, 15, 123456700, time.UTC)
	assert.True(now.Equal(Time(Timestamp(now))))

	// Sub-tick precision is truncated.
	fine := now.Add(42 * time.Nanosecond)
	assert.True(now.Equal(Time(Timestamp(fine))))
}
