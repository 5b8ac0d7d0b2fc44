// README: asynq server for the durable dispatch queue.
package infra

import (
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// NewQueueServer retries failed tasks one dispatch window apart.
func NewQueueServer(opt asynq.RedisConnOpt, retryDelay time.Duration, log *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
		RetryDelayFunc: func(int, error, *asynq.Task) time.Duration {
			return retryDelay
		},
		Logger:   log.Named("asynq").Sugar(),
		LogLevel: asynq.WarnLevel,
	})
}
