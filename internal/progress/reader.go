// Package progress reports transfer progress from streaming reads.
package progress

import "io"

// Callback receives cumulative bytes read and the expected total,
// -1 when the total is unknown.
type Callback func(received, total int64)

// Reader wraps an io.Reader and reports cumulative progress. Reports
// are coalesced: the callback fires once the stream advances by at
// least step bytes since the last report, and once more when the
// stream ends. A step of 0 reports on every read. Media transfers run
// to gigabytes, so per-read reporting would swamp any consumer.
type Reader struct {
	reader     io.Reader
	callback   Callback
	total      int64
	step       int64
	received   int64
	lastReport int64
	reported   bool
}

// NewReader wraps r with progress reporting. total is the expected
// size in bytes, -1 if unknown.
func NewReader(r io.Reader, total, step int64, callback Callback) *Reader {
	return &Reader{
		reader:   r,
		callback: callback,
		total:    total,
		step:     step,
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	if n > 0 {
		r.received += int64(n)
		if r.callback != nil && (r.step <= 0 || r.received-r.lastReport >= r.step) {
			r.report()
		}
	}
	if err == io.EOF && r.callback != nil && (!r.reported || r.received > r.lastReport) {
		// Final flush so consumers always see the closing byte count.
		r.report()
	}
	return n, err
}

func (r *Reader) report() {
	r.lastReport = r.received
	r.reported = true
	r.callback(r.received, r.total)
}

// Received returns the cumulative bytes read so far.
func (r *Reader) Received() int64 { return r.received }

// Close closes the underlying reader if it implements io.Closer.
func (r *Reader) Close() error {
	if closer, ok := r.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
