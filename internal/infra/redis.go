// README: Redis client initialization for the driver pool and dispatch queue.
package infra

import (
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(o RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB})
}

// AsynqOpt is the same Redis target expressed for asynq.
func (o RedisOptions) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}
