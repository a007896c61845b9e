/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/defaults"
)

// RedisConfig configures the redis queue.
type RedisConfig struct {
	// Addr is the redis server host:port
	Addr string
	// Password authenticates when set
	Password string
	// DB selects the redis database
	DB int
	// Consumer names this worker's in-flight list. Each worker
	// process must use a distinct stable name so its in-flight
	// tasks can be recovered after a crash.
	Consumer string
	// Clock stamps enqueued tasks
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *RedisConfig) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing parameter Addr")
	}
	if c.Consumer == "" {
		c.Consumer = uuid.NewString()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// RedisQueue is a Queue on a redis list pair: tasks wait in a shared
// pending list and sit in a per-consumer processing list while a
// worker runs them. Ack removes from the processing list; Nack and
// crash recovery move tasks back to pending.
type RedisQueue struct {
	cfg RedisConfig
	*log.Entry

	client *redis.Client
}

// NewRedisQueue connects to redis and returns the queue.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to redis at %v: %v", cfg.Addr, err)
	}
	return &RedisQueue{
		cfg:    cfg,
		Entry:  log.WithField(logport.Component, logport.ComponentQueue),
		client: client,
	}, nil
}

func (q *RedisQueue) processingKey() string {
	return defaults.QueueProcessingPrefix + q.cfg.Consumer
}

// Enqueue adds a named task to the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, args map[string]string) (string, error) {
	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       args,
		EnqueuedAt: q.cfg.Clock.Now().UTC(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := q.client.LPush(ctx, defaults.QueuePendingKey, data).Err(); err != nil {
		return "", trace.ConnectionProblem(err, "enqueue: %v", err)
	}
	return task.ID, nil
}

// Dequeue blocks until a task is available, atomically moving it into
// this consumer's processing list.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		data, err := q.client.BLMove(ctx,
			defaults.QueuePendingKey, q.processingKey(),
			"RIGHT", "LEFT", time.Second).Result()
		if errors.Is(err, redis.Nil) {
			if err := ctx.Err(); err != nil {
				return nil, trace.Wrap(err)
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, trace.Wrap(ctx.Err())
			}
			return nil, trace.ConnectionProblem(err, "dequeue: %v", err)
		}

		var task Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			// drop the malformed entry so it cannot wedge the queue
			q.client.LRem(ctx, q.processingKey(), 1, data)
			q.Warningf("Dropped malformed task: %v.", err)
			continue
		}
		return &task, nil
	}
}

// Ack removes the finished task from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := q.client.LRem(ctx, q.processingKey(), 1, data).Err(); err != nil {
		return trace.ConnectionProblem(err, "ack: %v", err)
	}
	return nil
}

// Nack moves the task back to the pending list for redelivery.
func (q *RedisQueue) Nack(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return trace.Wrap(err)
	}
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, data)
	pipe.LPush(ctx, defaults.QueuePendingKey, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return trace.ConnectionProblem(err, "nack: %v", err)
	}
	return nil
}

// Recover moves any task left in this consumer's processing list by a
// previous run back to pending. Call once on worker startup before
// dequeueing.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		err := q.client.LMove(ctx,
			q.processingKey(), defaults.QueuePendingKey,
			"RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return recovered, trace.ConnectionProblem(err, "recover: %v", err)
		}
		recovered++
	}
	if recovered > 0 {
		q.Infof("Recovered %v in-flight tasks.", recovered)
	}
	return recovered, nil
}

// Close releases the redis connection.
func (q *RedisQueue) Close() error {
	return trace.Wrap(q.client.Close())
}
