// Package retry は上限回数と固定遅延による再試行を提供する。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy は再試行の方針。
type Policy struct {
	// Attempts は最大試行回数。1未満は1として扱う。
	Attempts int
	// Delay は失敗後、次の試行までの待機時間。
	Delay time.Duration
}

// ExhaustedError は全試行が失敗したことを表す。
// Unwrapで最後の試行のエラーを返すため、errors.Is/Asで原因を判定できる。
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error はerrorインターフェースを実装する。
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d回試行しましたがすべて失敗しました: %v", e.Attempts, e.Last)
}

// Unwrap は最後の試行のエラーを返す。
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// stopError は再試行せず即座に返すエラーの目印。
type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop はerrを再試行不要として印を付ける。
// Doはこのエラーを受け取ると残りの試行を行わず、印を外したerrを返す。
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do はfnを最大p.Attempts回呼び出し、最初の成功結果を返す。
// 試行間はp.Delayだけ待機する。待機中にctxが終了した場合はctxのエラーを返す。
// 全試行が失敗した場合は*ExhaustedErrorを返す。
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		var stop *stopError
		if errors.As(err, &stop) {
			return zero, stop.err
		}
		last = err

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return zero, fmt.Errorf("再試行の待機が中断されました: %w", err)
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
