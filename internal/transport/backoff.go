package transport

import (
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy расписание реконнекта. Попытка n (с 1) ждёт
// min(MinInterval*Factor^n, MaxInterval). После MaxAttempts неудач подряд
// транспорт сдаётся; отрицательный MaxAttempts = бесконечно.
type RetryPolicy struct {
	MaxAttempts int
	Factor      float64
	MinInterval time.Duration
	MaxInterval time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Factor:      2,
		MinInterval: 1 * time.Second,
		MaxInterval: 8 * time.Second,
	}
}

// Retry счётчик попыток одного транспорта.
type Retry struct {
	b       backoff.Backoff
	max     int
	attempt atomic.Int64
}

func NewRetry(p RetryPolicy) *Retry {
	return &Retry{
		b: backoff.Backoff{
			Factor: p.Factor,
			Min:    p.MinInterval,
			Max:    p.MaxInterval,
		},
		max: p.MaxAttempts,
	}
}

// Next увеличивает счётчик и возвращает задержку до следующей попытки
// или false, если попытки кончились (счётчик тогда не меняется).
func (r *Retry) Next() (time.Duration, bool) {
	n := r.attempt.Load() + 1
	if r.max >= 0 && n > int64(r.max) {
		return 0, false
	}
	r.attempt.Store(n)
	return r.b.ForAttempt(float64(n)), true
}

func (r *Retry) Reset() {
	r.attempt.Store(0)
}

func (r *Retry) Attempt() int {
	return int(r.attempt.Load())
}
