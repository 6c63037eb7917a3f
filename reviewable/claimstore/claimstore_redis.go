package claimstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/redis/go-redis/v9"
)

var redisClaimPrefix string = "claim/"

// deletes the claim only if it is held by ARGV[1]
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
if cjson.decode(raw)["holder"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisClaimStore struct {
	Client *redis.Client
}

var _ reviewable.ClaimStore = (*RedisClaimStore)(nil)

func NewRedisClaimStore(redisURL string) (*RedisClaimStore, error) {
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
	return &RedisClaimStore{Client: rdb}, nil
}

func claimKey(id int64) string {
	return redisClaimPrefix + strconv.FormatInt(id, 10)
}

func (s *RedisClaimStore) get(ctx context.Context, id int64) (*reviewable.Claim, error) {
	raw, err := s.Client.Get(ctx, claimKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var c reviewable.Claim
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding claim for reviewable %d: %w", id, err)
	}
	return &c, nil
}

func (s *RedisClaimStore) Acquire(ctx context.Context, id int64, holder string, now time.Time) (reviewable.Claim, error) {
	claim := reviewable.Claim{ReviewableID: id, Holder: holder, AcquiredAt: now}
	b, err := json.Marshal(claim)
	if err != nil {
		return reviewable.Claim{}, err
	}
	// the existing claim can vanish between SETNX and GET; retry a few times
	for range 3 {
		ok, err := s.Client.SetNX(ctx, claimKey(id), b, 0).Result()
		if err != nil {
			return reviewable.Claim{}, err
		}
		if ok {
			return claim, nil
		}
		cur, err := s.get(ctx, id)
		if err != nil {
			return reviewable.Claim{}, err
		}
		if cur == nil {
			continue
		}
		if cur.Holder != holder {
			return reviewable.Claim{}, &reviewable.ClaimConflictError{ID: id, Holder: cur.Holder}
		}
		return *cur, nil
	}
	return reviewable.Claim{}, errChurn
}

func (s *RedisClaimStore) Release(ctx context.Context, id int64, holder string) error {
	n, err := releaseScript.Run(ctx, s.Client, []string{claimKey(id)}, holder).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return notHolder(id, holder)
	}
	return nil
}

func (s *RedisClaimStore) Clear(ctx context.Context, id int64) error {
	return s.Client.Del(ctx, claimKey(id)).Err()
}

func (s *RedisClaimStore) Holder(ctx context.Context, id int64) (*reviewable.Claim, error) {
	return s.get(ctx, id)
}

func (s *RedisClaimStore) Holders(ctx context.Context, ids []int64) (map[int64]reviewable.Claim, error) {
	out := make(map[int64]reviewable.Claim)
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = claimKey(id)
	}
	vals, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c reviewable.Claim
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decoding claim for reviewable %d: %w", ids[i], err)
		}
		out[ids[i]] = c
	}
	return out, nil
}
