package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const scheduledTasksKey = keyPrefix + "tasks:scheduled"

// promoteTaskScript moves one due task from the schedule into the ready
// stream. The ZREM guard makes promotion at-most-once across workers.
var promoteTaskScript = redis.NewScript(`
	if redis.call("zrem", KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	local fields = redis.call("hgetall", KEYS[2])
	redis.call("del", KEYS[2])
	if #fields == 0 then
		return 0
	end
	table.insert(fields, "task_id")
	table.insert(fields, ARGV[1])
	redis.call("xadd", KEYS[3], "*", unpack(fields))
	return 1
`)

// Task is a unit of deferred work delivered at least once, no earlier than
// RunAt.
type Task struct {
	ID      string
	Name    string
	Payload map[string]string
	RunAt   time.Time
}

// TaskQueue is a delayed queue: a sorted set of task ids scored by run time,
// a hash per task body, and a stream that due tasks are promoted into.
type TaskQueue struct {
	client redis.Cmdable
	stream string
}

func NewTaskQueue(client redis.Cmdable) *TaskQueue {
	return &TaskQueue{client: client, stream: TaskStream}
}

func taskKey(id string) string {
	return keyPrefix + "task:" + id
}

// Schedule enqueues name to run no earlier than runAt and returns its id.
func (q *TaskQueue) Schedule(ctx context.Context, name string, payload map[string]string, runAt time.Time) (string, error) {
	id := uuid.NewString()
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, taskKey(id), map[string]any{
		"name":    name,
		"payload": string(body),
		"run_at":  runAt.UnixMilli(),
	})
	pipe.ZAdd(ctx, scheduledTasksKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("schedule task %s: %w", name, err)
	}
	return id, nil
}

// Cancel drops a task that has not been promoted yet. Cancelling an unknown
// or already promoted task is not an error; consumers re-check state anyway.
func (q *TaskQueue) Cancel(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, scheduledTasksKey, taskID)
	pipe.Del(ctx, taskKey(taskID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return nil
}

// PromoteDue moves up to limit due tasks into the ready stream.
func (q *TaskQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledTasksKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		n, err := promoteTaskScript.Run(ctx, q.client, []string{scheduledTasksKey, taskKey(id), q.stream}, id).Int64()
		if err != nil {
			return promoted, fmt.Errorf("promote task %s: %w", id, err)
		}
		promoted += int(n)
	}
	return promoted, nil
}

// DecodeTask rebuilds a Task from a ready-stream message.
func DecodeTask(msg redis.XMessage) (*Task, error) {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}

	t := &Task{ID: str("task_id"), Name: str("name")}
	if t.ID == "" || t.Name == "" {
		return nil, fmt.Errorf("task message %s missing id or name", msg.ID)
	}
	if ms, err := strconv.ParseInt(str("run_at"), 10, 64); err == nil {
		t.RunAt = time.UnixMilli(ms).UTC()
	}
	if raw := str("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Payload); err != nil {
			return nil, fmt.Errorf("task %s payload: %w", t.ID, err)
		}
	}
	return t, nil
}
