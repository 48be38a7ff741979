package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 日志节流的失败类别
const (
	classCheckUnavailable             = "check.unavailable"
	classCheckRead                    = "check.read"
	classIncrementUnavailable         = "increment.unavailable"
	classIncrementMultipleUnavailable = "increment_multiple.unavailable"
)

// throttle 每个失败类别一个令牌桶（容量1），窗口内只放行一次
type throttle struct {
	mu       sync.Mutex
	every    rate.Limit
	now      func() time.Time
	limiters map[string]*rate.Limiter
}

func newThrottle(window time.Duration, now func() time.Time) *throttle {
	return &throttle{
		every:    rate.Every(window),
		now:      now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow 本类别在窗口内是否还没输出过
func (t *throttle) allow(class string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[class]
	if !ok {
		l = rate.NewLimiter(t.every, 1)
		t.limiters[class] = l
	}
	return l.AllowN(t.now(), 1)
}
