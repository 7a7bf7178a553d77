package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventLog_EvictsOldest(t *testing.T) {
	l := NewEventLog(3)
	for i := int64(1); i <= 5; i++ {
		l.Append(Record{Seq: i})
	}

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, int64(5), l.Total())

	recent := l.Recent(0)
	assert.Equal(t, []int64{3, 4, 5}, seqs(recent))
}

func TestEventLog_RecentLimit(t *testing.T) {
	l := NewEventLog(10)
	for i := int64(1); i <= 4; i++ {
		l.Append(Record{Seq: i})
	}

	assert.Equal(t, []int64{3, 4}, seqs(l.Recent(2)))
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs(l.Recent(100)))
}

func TestEventLog_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultEventLogCapacity, NewEventLog(0).Cap())
	assert.Empty(t, NewEventLog(5).Recent(3))
}

func seqs(records []Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Seq
	}
	return out
}
