// Package sweep は保持期限を過ぎた受信箱アイテムの定期削除ジョブを提供する。
//
// 削除対象は status = 'PENDING' かつ expires_at <= now のアイテムのみ。
// 既読・タスク化済みのアイテムは期限を過ぎても削除しない。
// 利用者の操作と同じアイテムを同時に扱うことがあるため、
// 削除はDELETE文の条件で対象を再確認し、プロセス内のロックは使わない。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mentionbox/internal/metrics"
)

// DefaultBatchSize は1回のDELETE文で削除する最大件数。
const DefaultBatchSize = 500

// Deleter は期限切れアイテムの削除を抽象化するインターフェース。
// repository.InboxItemRepositoryが満たす。
type Deleter interface {
	DeleteExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Result は1回のスイープの結果。
type Result struct {
	DeletedCount int
	DeletedIDs   []string
}

// Job は期限切れアイテムの削除ジョブ。冪等で、削除対象がない場合も成功として扱う。
type Job struct {
	deleter Deleter
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	BatchSize int // 1回のDELETE文で削除する最大件数（デフォルト: 500）
}

// NewJob は新しいJobを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewJob(deleter Deleter, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Job{
		deleter:   deleter,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
		BatchSize: DefaultBatchSize,
	}
}

// RunOnce は期限切れのPENDINGアイテムを削除し、削除件数とIDをログに記録する。
// BatchSize件ずつ、削除件数がBatchSizeに満たなくなるまで繰り返す。
// 途中で失敗した場合も、それまでに削除した分はResultに含めて返す。
func (j *Job) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := j.now().UTC()
	result := &Result{}

	batchSize := j.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for {
		ids, err := j.deleter.DeleteExpiredPending(ctx, now, batchSize)
		if err != nil {
			j.metrics.RecordSweepFailure()
			j.logger.Error("期限切れメンションのスイープに失敗しました",
				slog.String("error", err.Error()),
				slog.Int("deleted_count", result.DeletedCount),
			)
			return result, fmt.Errorf("期限切れメンションの削除に失敗: %w", err)
		}

		result.DeletedIDs = append(result.DeletedIDs, ids...)
		result.DeletedCount += len(ids)

		if len(ids) < batchSize || ctx.Err() != nil {
			break
		}
	}

	duration := time.Since(start)
	j.metrics.RecordSweep(result.DeletedCount, duration)
	j.logger.Info("期限切れメンションのスイープが完了しました",
		slog.Int("deleted_count", result.DeletedCount),
		slog.Any("deleted_ids", result.DeletedIDs),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return result, nil
}

// Start は起動直後に1回、その後はintervalごとにスイープを実行する。
// 失敗はログに記録し、次回の実行は独立して行う。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("期限切れスイープを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行（失敗はRunOnce内でログ済み）
	_, _ = j.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("期限切れスイープを停止しました")
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
