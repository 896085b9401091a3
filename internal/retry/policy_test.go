package retry

import (
	"context"
	stdErrors "errors"
	"net"
	"syscall"
	"testing"
	"time"

	xerrors "LendFlow-Chain/internal/errors"
)

type statusErr int

func (e statusErr) Error() string   { return "http error" }
func (e statusErr) HTTPStatus() int { return int(e) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestShouldRetryStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{409, false},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tc := range cases {
		if got := ShouldRetry(statusErr(tc.status), Options{}); got != tc.want {
			t.Errorf("status %d: got %v want %v", tc.status, got, tc.want)
		}
	}
}

func TestShouldRetryTransportErrors(t *testing.T) {
	var netErr net.Error = timeoutErr{}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net.Error", netErr, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"op error", &net.OpError{Op: "dial", Err: stdErrors.New("boom")}, true},
		{"unclassified", stdErrors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldRetry(tc.err, Options{}); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestShouldRetryHonorsRegisteredCodes(t *testing.T) {
	retryable := xerrors.New(xerrors.CodeTransportFailure, "网络抖动")
	if !ShouldRetry(retryable, Options{}) {
		t.Fatalf("transport failure should be retryable")
	}
	rejected := xerrors.New(xerrors.CodeBusinessRejected, "风控拒绝")
	if ShouldRetry(rejected, Options{}) {
		t.Fatalf("business rejection must never retry")
	}
}

func TestShouldRetryMutationGate(t *testing.T) {
	err := statusErr(500)
	if ShouldRetry(err, Options{IsMutation: true}) {
		t.Fatalf("mutations are not retried without explicit opt-in")
	}
	if !ShouldRetry(err, Options{IsMutation: true, RetryMutation: true}) {
		t.Fatalf("opted-in mutation should retry on 500")
	}
	if ShouldRetry(err, Options{SkipRetry: true}) {
		t.Fatalf("SkipRetry must win over everything")
	}
}

func TestNextDelayBoundsAndCap(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 4; attempt++ {
		expected := float64(base) * float64(uint64(1)<<uint(attempt-1))
		lo := time.Duration(expected * 0.8)
		hi := time.Duration(expected * 1.2)
		if hi > MaxDelay {
			hi = MaxDelay
		}
		for i := 0; i < 50; i++ {
			got := NextDelay(attempt, base)
			if got < lo || got > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, lo, hi)
			}
		}
	}

	// 指数增长到很高的次数后必须被截断。
	for i := 0; i < 20; i++ {
		if got := NextDelay(10, time.Second); got > MaxDelay {
			t.Fatalf("delay %v exceeds cap %v", got, MaxDelay)
		}
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return statusErr(400)
	})
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, calls=%d", calls)
	}
	var carrier StatusCarrier
	if !stdErrors.As(err, &carrier) || carrier.HTTPStatus() != 400 {
		t.Fatalf("最后一次的错误应原样返回: %v", err)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{MaxRetries: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return statusErr(503)
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if err == nil {
		t.Fatalf("expected final error")
	}
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return statusErr(500)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("unexpected attempt count: %d", calls)
	}
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Options{BaseDelay: 50 * time.Millisecond}, func(context.Context) error {
		calls++
		cancel()
		return statusErr(500)
	})
	if calls != 1 {
		t.Fatalf("canceled context must stop the loop, calls=%d", calls)
	}
	if err == nil {
		t.Fatalf("expected the last error to be returned")
	}
}
