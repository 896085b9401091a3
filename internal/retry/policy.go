package retry

import (
	"context"
	stdErrors "errors"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"

	xerrors "LendFlow-Chain/internal/errors"
)

const (
	// DefaultBaseDelay 是首次重试前的基础等待时间。
	DefaultBaseDelay = 300 * time.Millisecond
	// DefaultMaxRetries 是默认的额外重试次数（共 3 次尝试）。
	DefaultMaxRetries = 2
	// MaxDelay 是退避等待的上限。
	MaxDelay = 5 * time.Second
)

// StatusCarrier 由携带 HTTP 状态码的错误实现，用于传输层分类。
type StatusCarrier interface {
	HTTPStatus() int
}

// Options 描述单次逻辑调用的重试上下文，不做持久化。
type Options struct {
	// MaxRetries 为额外重试次数，0 表示使用默认值。
	MaxRetries int
	// BaseDelay 为退避基础时间，0 表示使用默认值。
	BaseDelay time.Duration
	// IsMutation 标记该调用为非幂等写操作。
	IsMutation bool
	// RetryMutation 显式允许重试写操作。重复提交非幂等写有重复风险，
	// 因此写操作默认不重试。
	RetryMutation bool
	// SkipRetry 显式关闭重试。
	SkipRetry bool
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	return o
}

// ShouldRetry 依次应用分类规则，决定一个错误是否值得重试。
// 未能分类的错误一律不重试。
func ShouldRetry(err error, opts Options) bool {
	if err == nil {
		return false
	}
	if opts.SkipRetry {
		return false
	}
	if opts.IsMutation && !opts.RetryMutation {
		return false
	}

	var carrier StatusCarrier
	if stdErrors.As(err, &carrier) {
		return retryableStatus(carrier.HTTPStatus())
	}

	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if stdErrors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		return true
	}
	if stdErrors.Is(err, syscall.ECONNREFUSED) || stdErrors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if stdErrors.As(err, &opErr) {
		return true
	}

	if unified, ok := xerrors.From(err); ok {
		return unified.Retryable()
	}
	return false
}

// retryableStatus 实现 HTTP 状态码的分类规则。
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// 需要用户介入，重试无意义。
		return false
	case status == http.StatusTooManyRequests:
		return true
	case status >= 400 && status < 500:
		return false
	case status >= 500:
		return true
	default:
		return false
	}
}

// NextDelay 计算第 attempt 次重试前的等待时间：
// base * 2^(attempt-1)，叠加 ±20% 均匀抖动，最后截断到 MaxDelay。
func NextDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	delay := float64(base) * float64(uint64(1)<<uint(attempt-1))
	jitter := (rand.Float64()*0.4 - 0.2) * delay
	result := time.Duration(delay + jitter)
	if result > MaxDelay {
		result = MaxDelay
	}
	if result < 0 {
		result = 0
	}
	return result
}

// Do 以指数退避循环执行 call，直到成功、错误不可重试或次数耗尽。
// 次数耗尽时最后一次的错误原样返回给调用方。
func Do(ctx context.Context, opts Options, call func(context.Context) error) error {
	opts = opts.withDefaults()

	var err error
	for attempt := 1; ; attempt++ {
		err = call(ctx)
		if err == nil {
			return nil
		}
		if attempt > opts.MaxRetries || !ShouldRetry(err, opts) {
			return err
		}

		timer := time.NewTimer(NextDelay(attempt, opts.BaseDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
