package syncdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codecollab/internal/services/room"
)

const (
	batchSize   = 100
	pipeTimeout = 1500 * time.Millisecond
)

// Run mirrors dirty room documents from Redis into SQL every interval until
// ctx is done.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB, interval time.Duration) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				for {
					n, err := syncOnce(ctx, rdc, db)
					if err != nil || n < batchSize {
						break
					}
				}
			}
		}
	}()
}

// syncOnce flushes at most one batch and returns how many keys it popped.
// A room written after SPOP re-enters the dirty set through room_code_set,
// so popping before reading never loses a write.
func syncOnce(ctx context.Context, rdc *redis.Client, db *sql.DB) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()

	keys, err := rdc.SPopN(pctx, room.RedisDirtySet, batchSize).Result()
	if err != nil || len(keys) == 0 {
		if err != nil && err != redis.Nil {
			zap.L().Warn("syncdb.spop", zap.Error(err))
		}
		return 0, err
	}

	pipe := rdc.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(pctx, k)
	}
	if _, err = pipe.Exec(pctx); err != nil {
		zap.L().Error("syncdb.pipeline", zap.Error(err))
		remark(ctx, rdc, keys)
		return 0, err
	}

	if err := flush(ctx, db, keys, cmds); err != nil {
		zap.L().Error("syncdb.flush", zap.Int("rooms", len(keys)), zap.Error(err))
		remark(ctx, rdc, keys)
		return 0, err
	}
	zap.L().Debug("syncdb.flushed", zap.Int("rooms", len(keys)))
	return len(keys), nil
}

func flush(ctx context.Context, db *sql.DB, keys []string, cmds []*redis.MapStringStringCmd) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upd = `UPDATE rooms SET code = $2, language = $3 WHERE id = $1`
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue // hash expired between SPOP and HGETALL
		}
		id := keys[i][len(room.RedisRoomKeyPrefix):]
		// Rooms opened only over the socket have no SQL row; zero rows is fine.
		if _, err := tx.ExecContext(ctx, upd, id, data["code"], data["lang"]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func remark(ctx context.Context, rdc *redis.Client, keys []string) {
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := rdc.SAdd(ctx, room.RedisDirtySet, members...).Err(); err != nil {
		zap.L().Error("syncdb.remark", zap.Error(err))
	}
}
