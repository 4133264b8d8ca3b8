package progress

import (
	"io"
	"time"
)

// Reader wraps an io.Reader, counts the bytes that pass through it and
// reports progress via a callback every interval bytes.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(Snapshot)

	start          time.Time
	now            func() time.Time
	totalRead      int64
	lastReport     int64 // bytes since last report
	reportInterval int64
}

// Snapshot is the transfer state at the time of a report.
type Snapshot struct {
	Read    int64
	Total   int64 // <= 0 when the server sent no Content-Length
	Elapsed time.Duration
	Rate    float64 // bytes per second
}

func NewReader(r io.Reader, total int64, interval int64, cb func(Snapshot)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		start:          time.Now(),
		now:            time.Now,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.OnProgress != nil && pr.reportInterval > 0 && pr.lastReport >= pr.reportInterval {
			pr.OnProgress(pr.Snapshot())
			pr.lastReport = 0
		}
	}

	return n, err
}

// BytesRead is the cumulative number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

// Rate is the average transfer rate since the reader was created.
func (pr *Reader) Rate() float64 {
	elapsed := pr.now().Sub(pr.start).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(pr.totalRead) / elapsed
}

func (pr *Reader) Snapshot() Snapshot {
	return Snapshot{
		Read:    pr.totalRead,
		Total:   pr.Total,
		Elapsed: pr.now().Sub(pr.start),
		Rate:    pr.Rate(),
	}
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}

	return float64(s.Read) * 100 / float64(s.Total)
}
