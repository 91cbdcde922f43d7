package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
)

const (
	sizedTemplate   = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
	unsizedTemplate = `{{string . "prefix"}}{{counters . }} {{speed . }}`
)

// TransferProgress counts the bytes of one zone file transfer and, when
// given a writer, renders them as a progress bar.
type TransferProgress struct {
	bar     *pb.ProgressBar
	seen    atomic.Int64
	started time.Time
}

// NewTransferProgress starts tracking a transfer of size bytes. A
// non-positive size means the server sent no Content-Length. With a nil
// output nothing is rendered.
func NewTransferProgress(name string, size int64, output io.Writer) *TransferProgress {
	p := &TransferProgress{started: time.Now()}
	if output == nil {
		return p
	}

	tmpl := sizedTemplate
	if size <= 0 {
		tmpl = unsizedTemplate
	}
	bar := pb.ProgressBarTemplate(tmpl).New(0)
	bar.SetTotal(size)
	bar.Set(pb.Bytes, true)
	bar.Set(pb.SIBytesPrefix, true)
	bar.Set("prefix", name+": ")
	bar.SetWriter(output)
	p.bar = bar.Start()
	return p
}

// Reader wraps r so bytes read through it advance the transfer
func (p *TransferProgress) Reader(r io.Reader) io.Reader {
	return readerFunc(func(b []byte) (int, error) {
		n, err := r.Read(b)
		if n > 0 {
			seen := p.seen.Add(int64(n))
			if p.bar != nil {
				p.bar.SetCurrent(seen)
			}
		}
		return n, err
	})
}

// Seen returns the bytes transferred so far
func (p *TransferProgress) Seen() int64 {
	return p.seen.Load()
}

// Done stops the bar and reports the bytes moved and the time taken
func (p *TransferProgress) Done() (int64, time.Duration) {
	if p.bar != nil {
		p.bar.Finish()
	}
	return p.seen.Load(), time.Since(p.started)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) { return f(b) }

var byteUnits = [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatBytes renders a byte count with binary units, e.g. "1.5 KB"
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	value, unit := float64(n), 0
	for value >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", value, byteUnits[unit])
}
