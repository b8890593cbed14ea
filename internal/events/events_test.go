package events

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDIsSortableByTime(t *testing.T) {
	earlier := NewEventID(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	later := NewEventID(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Less(t, earlier, later)

	parsed, err := ulid.Parse(later)
	require.NoError(t, err)
	require.Equal(t, ulid.Timestamp(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)), parsed.Time())
}
