package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"slices"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the delay before the first retry, before jitter.
	DefaultBaseDelay = 500 * time.Millisecond
	// JitterFraction bounds the additive jitter relative to the exponential delay.
	JitterFraction = 0.1
	// MaxBackoff caps the unjittered delay so that delay plus jitter always
	// fits in a time.Duration.
	MaxBackoff = time.Duration(math.MaxInt64 / 12 * 10)
)

// DefaultRetryableStatus lists the HTTP statuses treated as transient. Any
// other non-2xx status ends the exchange.
var DefaultRetryableStatus = []int{429, 500}

// Class is the retry classification of a failed attempt.
type Class int

const (
	// Permanent failures end the exchange immediately.
	Permanent Class = iota
	// Transient failures are retried while budget remains.
	Transient
	// Cancelled failures end the exchange silently.
	Cancelled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Cancelled:
		return "cancelled"
	default:
		return "permanent"
	}
}

// Policy configures retry eligibility and timing for one exchange.
type Policy struct {
	// MaxRetries is the number of retries allowed after the first attempt.
	MaxRetries int
	// BaseDelay is the unjittered delay before the first retry.
	BaseDelay time.Duration
	// RetryableStatus lists HTTP statuses classified as transient.
	RetryableStatus []int
	// Rand returns a uniform value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      DefaultMaxRetries,
		BaseDelay:       DefaultBaseDelay,
		RetryableStatus: slices.Clone(DefaultRetryableStatus),
	}
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Temporary is implemented by errors that know whether they are retry-eligible.
type Temporary interface {
	Transient() bool
}

// Classify decides whether err is transient, permanent, or a cancellation.
func (p Policy) Classify(err error) Class {
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if p.retryableStatus(sc.StatusCode()) {
			return Transient
		}
		return Permanent
	}

	var tmp Temporary
	if errors.As(err, &tmp) {
		if tmp.Transient() {
			return Transient
		}
		return Permanent
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	return Permanent
}

func (p Policy) retryableStatus(code int) bool {
	statuses := p.RetryableStatus
	if statuses == nil {
		statuses = DefaultRetryableStatus
	}
	return slices.Contains(statuses, code)
}

func (p Policy) rand() func() float64 {
	if p.Rand != nil {
		return p.Rand
	}
	return rand.Float64
}

// Delay returns the wait before retry n (0-indexed):
// base*2^n plus a uniform jitter of up to 10% of that value.
// The result lies in [base*2^n, 1.1*base*2^n) for r in [0, 1). Once base*2^n
// would exceed MaxBackoff the result is MaxBackoff.
func Delay(n int, base time.Duration, r float64) time.Duration {
	if n < 0 {
		n = 0
	}
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = math.Nextafter(1, 0)
	}
	if base > MaxBackoff>>uint(n) {
		return MaxBackoff
	}
	exp := base << uint(n)
	span := time.Duration(JitterFraction * float64(exp))
	jitter := time.Duration(r * float64(span))
	if span > 0 && jitter >= span {
		jitter = span - 1
	}
	return exp + jitter
}
