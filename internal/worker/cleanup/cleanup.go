// Package cleanup は期限切れWebセッションの定期削除ジョブを提供する。
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
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordSessionsCleaned(count int64)
}

// CleanupJob は有効期限を過ぎたセッション行を削除するジョブ。
// 削除は冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder

	// Grace は有効期限を過ぎてから削除するまでの猶予。
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
		Grace:    time.Hour,
	}
}

// Run は expires_at + Grace が現在時刻より前のセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int64(j.Grace.Seconds())))
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if j.recorder != nil {
		j.recorder.RecordSessionsCleaned(deleted)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降interval毎に実行する。ctxがキャンセルされるまでブロックする。
// 実行の失敗はログに残して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup job failed, retrying next tick", slog.String("error", err.Error()))
	}
}
