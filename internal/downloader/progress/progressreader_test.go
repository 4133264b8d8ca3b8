package progress

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_CountsAndReports(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var snapshots []Snapshot

	pr := NewReader(bytes.NewReader(data), int64(len(data)), 100, func(s Snapshot) {
		snapshots = append(snapshots, s)
	})

	buf := make([]byte, 50)

	// hide io.Discard's ReaderFrom so buf sets the read size
	n, err := io.CopyBuffer(struct{ io.Writer }{io.Discard}, pr, buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.Equal(t, int64(1000), pr.BytesRead())
	assert.Len(t, snapshots, 10)
	assert.Equal(t, int64(100), snapshots[0].Read)
	assert.InDelta(t, 100.0, snapshots[len(snapshots)-1].Percent(), 0.001)
}

func TestReader_Rate(t *testing.T) {
	pr := NewReader(bytes.NewReader(make([]byte, 2048)), 0, 0, nil)

	start := time.Unix(1000, 0)
	pr.start = start
	pr.now = func() time.Time { return start.Add(2 * time.Second) }

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	assert.InDelta(t, 1024.0, pr.Rate(), 0.001)
	assert.Equal(t, float64(-1), pr.Snapshot().Percent(), "unknown total")
}

func TestReader_ZeroElapsed(t *testing.T) {
	pr := NewReader(bytes.NewReader(nil), 0, 0, nil)

	start := time.Unix(1000, 0)
	pr.start = start
	pr.now = func() time.Time { return start }

	assert.Zero(t, pr.Rate())
}
