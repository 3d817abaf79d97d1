// Package cleanup は古いセッションCookieの自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を超過したCookieをNULLにする。
// ログイン情報のレコード自体は削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は削除件数の計測インターフェース。
type Recorder interface {
	RecordCookiesPurged(count int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordCookiesPurged(int64) {}

// DefaultRetention はセッションCookieの既定の保持期間。
const DefaultRetention = 7 * 24 * time.Hour

const purgeQuery = `UPDATE friend_credentials
SET session_cookie = NULL, cookie_updated_at = NULL
WHERE session_cookie IS NOT NULL AND cookie_updated_at < now() - $1::interval`

// CleanupJob は保持期間を超過したセッションCookieの削除ジョブ。
// 冪等であり、何度実行しても同じ結果になる。
type CleanupJob struct {
	db        Executor
	logger    *slog.Logger
	recorder  Recorder
	Retention time.Duration // Cookieの保持期間（デフォルト: 7日）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CleanupJob{
		db:        db,
		logger:    logger,
		recorder:  recorder,
		Retention: DefaultRetention,
	}
}

// Run はcookie_updated_atがRetentionより古いセッションCookieをNULLにする。
// 次回のリクエストではセッションリフレッシュで新しいCookieが取得される。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.Retention.Seconds()))

	result, err := j.db.ExecContext(ctx, purgeQuery, interval)
	if err != nil {
		j.logger.Error("Cookieクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("retention", j.Retention.String()),
		)
		return fmt.Errorf("セッションCookieのクリーンアップに失敗: %w", err)
	}

	purgedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.recorder.RecordCookiesPurged(purgedCount)

	j.logger.Info("Cookieクリーンアップジョブが完了しました",
		slog.Int64("purged_count", purgedCount),
		slog.String("retention", j.Retention.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後と以降interval毎にRunを実行する。ctxがキャンセルされるまでブロックする。
// 個々の実行の失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	j.logger.Info("Cookieクリーンアップワーカーを開始しました",
		slog.String("interval", interval.String()),
	)

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Cookieクリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
