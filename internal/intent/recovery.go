package intent

import (
	"context"
	"log/slog"

	"LendFlow-Chain/pkg/logger"
)

// RecoverPending 将仍处于 pending 状态的意图重新入队。
// 进程崩溃时队列里的消息可能丢失，而存储中的记录仍在，
// 启动时做一次补投即可恢复。已在执行或已终结的意图不受影响。
func RecoverPending(ctx context.Context, store Store, producer Producer) (int, error) {
	if store == nil || producer == nil {
		return 0, nil
	}

	recovered := 0
	offset := 0
	for {
		records, err := store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusPending),
			WithLimit(100),
			WithOffset(offset),
			WithSortOrder(SortByUpdatedAsc),
		}))
		if err != nil {
			return recovered, err
		}
		if len(records) == 0 {
			break
		}
		for _, record := range records {
			if err := producer.Publish(ctx, record.ID); err != nil {
				return recovered, err
			}
			recovered++
		}
		offset += len(records)
	}

	if recovered > 0 {
		logger.Audit().Info("恢复未处理意图", slog.Int("count", recovered))
	}
	return recovered, nil
}
