package storage

import (
	"io"
	"sync"
)

// inFlightCeiling keeps byte-level progress below 1.0 until the provider has
// confirmed the upload.
const inFlightCeiling = 0.99

// Progress turns byte counts into non-decreasing fractions. A request body may
// be read more than once when the REST client retries; Progress only reports
// new highs.
type Progress struct {
	total int64
	fn    ProgressFunc

	mu   sync.Mutex
	last float64
}

// NewProgress creates a tracker for total bytes. fn may be nil.
func NewProgress(total int64, fn ProgressFunc) *Progress {
	return &Progress{total: total, fn: fn}
}

// Reader wraps r so bytes read through it are counted from zero.
func (p *Progress) Reader(r io.Reader) io.Reader {
	return &progressReader{r: r, p: p}
}

// ReadCloser is Reader for io.ReadCloser.
func (p *Progress) ReadCloser(rc io.ReadCloser) io.ReadCloser {
	return readCloser{Reader: p.Reader(rc), Closer: rc}
}

func (p *Progress) observe(n int64) {
	if p.total <= 0 {
		return
	}

	p.report(min(float64(n)/float64(p.total), inFlightCeiling))
}

// Done reports 1.0.
func (p *Progress) Done() {
	p.report(1)
}

func (p *Progress) report(f float64) {
	p.mu.Lock()
	if f <= p.last {
		p.mu.Unlock()
		return
	}

	p.last = f
	p.mu.Unlock()

	if p.fn != nil {
		p.fn(f)
	}
}

type progressReader struct {
	r    io.Reader
	p    *Progress
	read int64
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.read += int64(n)
		pr.p.observe(pr.read)
	}

	return n, err
}
