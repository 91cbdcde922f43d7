package utils

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode"

	"golang.org/x/time/rate"

	"czdsfetch/internal"
)

// maxBurst bounds a single reservation so slow limits still make steady progress
const maxBurst = 256 * 1024

// BandwidthLimiter paces zone file bodies to a byte rate shared by all workers
type BandwidthLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

var _ internal.RateLimiter = (*BandwidthLimiter)(nil)

// NewBandwidthLimiter creates a limiter; a non-positive rate means unlimited
func NewBandwidthLimiter(bytesPerSecond int64) *BandwidthLimiter {
	l := &BandwidthLimiter{}
	l.SetRate(bytesPerSecond)
	return l
}

// SetRate replaces the limit. Readers already in flight pick it up on their next read.
func (l *BandwidthLimiter) SetRate(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.limiter.Store(nil)
		return
	}
	burst := int(min(bytesPerSecond, maxBurst))
	l.limiter.Store(rate.NewLimiter(rate.Limit(bytesPerSecond), burst))
}

// Wait blocks until n bytes may be consumed, splitting n into burst-sized reservations
func (l *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	limiter := l.limiter.Load()
	if limiter == nil {
		return nil
	}
	for burst := limiter.Burst(); n > 0; n -= burst {
		if err := limiter.WaitN(ctx, min(n, burst)); err != nil {
			return err
		}
	}
	return nil
}

// Reader wraps r so every read is paced by the limiter. A nil limiter returns r.
func (l *BandwidthLimiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}
	chunk := maxBurst
	if limiter := l.limiter.Load(); limiter != nil {
		chunk = limiter.Burst()
	}
	return &pacedReader{ctx: ctx, r: r, limiter: l, chunk: chunk}
}

// pacedReader reads at most one burst at a time so the source is polled at
// least about once a second even under a very low limit
type pacedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter internal.RateLimiter
	chunk   int
}

func (pr *pacedReader) Read(p []byte) (int, error) {
	if pr.chunk > 0 && len(p) > pr.chunk {
		p = p[:pr.chunk]
	}
	n, err := pr.r.Read(p)
	if n == 0 {
		return n, err
	}
	if waitErr := pr.limiter.Wait(pr.ctx, n); waitErr != nil {
		return n, waitErr
	}
	return n, err
}

var rateMultipliers = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
	"T":  1 << 40,
	"TB": 1 << 40,
}

// ParseRateLimit parses a rate such as "500", "750K" or "1.5MB" into bytes per
// second. Units are binary; the empty string means unlimited.
func ParseRateLimit(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	number, unit := value, ""
	if i := strings.IndexFunc(value, unicode.IsLetter); i >= 0 {
		number, unit = value[:i], strings.ToUpper(value[i:])
	}

	multiplier, ok := rateMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported rate suffix %q (supported: B, K/KB, M/MB, G/GB, T/TB)", unit)
	}
	if number == "" {
		return 0, fmt.Errorf("invalid rate format: %s", value)
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", number)
	}
	if amount < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %s", value)
	}

	bytesPerSecond := amount * float64(multiplier)
	if bytesPerSecond >= math.MaxInt64 {
		return 0, fmt.Errorf("rate value overflow: %s", value)
	}
	return int64(bytesPerSecond), nil
}
