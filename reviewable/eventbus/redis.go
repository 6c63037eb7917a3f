package eventbus

import (
	"context"
	"encoding/json"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/redis/go-redis/v9"
)

var DefaultStream = "reviewqueue/events"

// RedisBus appends each event to a capped redis stream. Consumers read it
// with XREAD or consumer groups.
type RedisBus struct {
	Client *redis.Client
	Stream string
	// approximate cap on stream length; zero means uncapped
	MaxLen int64
}

var _ reviewable.EventBus = (*RedisBus)(nil)

func NewRedisBus(redisURL, stream string) (*RedisBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisBus{Client: rdb, Stream: stream, MaxLen: 100_000}, nil
}

func (b *RedisBus) Publish(ctx context.Context, evt *reviewable.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.Stream,
		MaxLen: b.MaxLen,
		Approx: b.MaxLen > 0,
		Values: map[string]any{
			"kind":  string(evt.Kind),
			"event": body,
		},
	}).Err()
}
