package progress

import "io"

// Reader wraps an io.Reader and reports the fraction of Total read so far.
// Reports are advisory: they happen at most once per Step of progress and
// never when Total is unknown.
type Reader struct {
	Reader     io.Reader
	Total      int64
	Step       float64
	OnProgress func(fraction float64)

	read     int64
	reported float64
}

// NewReader returns a Reader reporting every step (0 < step <= 1) of total.
func NewReader(r io.Reader, total int64, step float64, cb func(fraction float64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		Step:       step,
		OnProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n <= 0 || pr.Total <= 0 || pr.OnProgress == nil {
		return n, err
	}

	pr.read += int64(n)

	fraction := float64(pr.read) / float64(pr.Total)
	if fraction > 1 {
		fraction = 1
	}

	if fraction-pr.reported >= pr.Step || (fraction == 1 && pr.reported < 1) {
		pr.reported = fraction
		pr.OnProgress(fraction)
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}
