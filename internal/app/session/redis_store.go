package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "session:user:"
	activeIndexKey   = "sessions:active"
)

// closeSession is shared by the scripts below. It expects the session hash
// key in `key` and the current time in ms in `now`.
const closeSessionLua = `
local function close_session(key, now)
  local started = tonumber(redis.call('HGET', key, 'started_at'))
  redis.call('HSET', key, 'is_active', '0', 'ended_at', now, 'duration_seconds', math.floor((now - started) / 1000))
end
`

// KEYS[1] user key, KEYS[2] activity index
// ARGV[1] now ms, ARGV[2] ttl ms, ARGV[3] new session id, ARGV[4] user id, ARGV[5] session key prefix
var getOrCreateScript = redis.NewScript(closeSessionLua + `
local now = tonumber(ARGV[1])
local current = redis.call('GET', KEYS[1])
if current then
  local key = ARGV[5] .. current
  if redis.call('HGET', key, 'is_active') == '1' then
    local last = tonumber(redis.call('HGET', key, 'last_activity_at'))
    if now < last + tonumber(ARGV[2]) then
      return redis.call('HGETALL', key)
    end
    close_session(key, now)
  end
end
local key = ARGV[5] .. ARGV[3]
redis.call('HSET', key,
  'session_id', ARGV[3], 'user_id', ARGV[4],
  'started_at', now, 'last_activity_at', now,
  'click_count', 0, 'conversion_count', 0,
  'total_revenue', 0, 'total_commission', 0,
  'is_active', '1')
redis.call('SET', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[2], now, ARGV[3])
return redis.call('HGETALL', key)
`)

// KEYS[1] session key, KEYS[2] activity index
// ARGV[1] now ms, ARGV[2] ttl ms, ARGV[3] session id,
// ARGV[4] clicks, ARGV[5] conversions, ARGV[6] revenue, ARGV[7] commission
var touchScript = redis.NewScript(closeSessionLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local now = tonumber(ARGV[1])
if redis.call('HGET', KEYS[1], 'is_active') == '1' then
  local last = tonumber(redis.call('HGET', KEYS[1], 'last_activity_at'))
  if now >= last + tonumber(ARGV[2]) then
    close_session(KEYS[1], now)
  elseif now > last then
    redis.call('HSET', KEYS[1], 'last_activity_at', now)
    redis.call('ZADD', KEYS[2], now, ARGV[3])
  end
end
if tonumber(ARGV[4]) > 0 then
  redis.call('HINCRBY', KEYS[1], 'click_count', ARGV[4])
end
redis.call('HINCRBY', KEYS[1], 'conversion_count', ARGV[5])
redis.call('HINCRBYFLOAT', KEYS[1], 'total_revenue', ARGV[6])
redis.call('HINCRBYFLOAT', KEYS[1], 'total_commission', ARGV[7])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS[1] session key, KEYS[2] activity index
// ARGV[1] now ms, ARGV[2] ttl ms, ARGV[3] session id, ARGV[4] user key prefix
var expireScript = redis.NewScript(closeSessionLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('ZREM', KEYS[2], ARGV[3])
  return false
end
local now = tonumber(ARGV[1])
if redis.call('HGET', KEYS[1], 'is_active') == '1' then
  local last = tonumber(redis.call('HGET', KEYS[1], 'last_activity_at'))
  if now < last + tonumber(ARGV[2]) then
    return false
  end
  close_session(KEYS[1], now)
end
local snapshot = redis.call('HGETALL', KEYS[1])
local userKey = ARGV[4] .. redis.call('HGET', KEYS[1], 'user_id')
if redis.call('GET', userKey) == ARGV[3] then
  redis.call('DEL', userKey)
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[3])
return snapshot
`)

// RedisStore keeps live sessions in Redis hashes. Every mutation runs as a
// Lua script so concurrent requests never interleave on one session.
//
// Keys: session:{id} (hash), session:user:{userId} (current session id) and
// the sessions:active sorted set scored by last activity in ms.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	newID  func() string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, newID: uuid.NewString}
}

func (s *RedisStore) GetOrCreate(ctx context.Context, userID string, now time.Time) (*model.ClickSession, error) {
	res, err := getOrCreateScript.Run(ctx, s.client,
		[]string{userKeyPrefix + userID, activeIndexKey},
		now.UnixMilli(), s.ttl.Milliseconds(), s.newID(), userID, sessionKeyPrefix,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}
	return decodeSession(res)
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, delta model.SessionDelta, now time.Time) (*model.ClickSession, error) {
	res, err := touchScript.Run(ctx, s.client,
		[]string{sessionKeyPrefix + sessionID, activeIndexKey},
		now.UnixMilli(), s.ttl.Milliseconds(), sessionID,
		delta.Clicks, delta.Conversions,
		strconv.FormatFloat(delta.Revenue, 'f', -1, 64),
		strconv.FormatFloat(delta.Commission, 'f', -1, 64),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return decodeSession(res)
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*model.ClickSession, error) {
	fields, err := s.client.HGetAll(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return sessionFromHash(fields)
}

func (s *RedisStore) ExpireStale(ctx context.Context, now time.Time) ([]model.ClickSession, error) {
	cutoff := now.Add(-s.ttl).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan idle sessions: %w", err)
	}

	var expired []model.ClickSession
	for _, id := range ids {
		res, err := expireScript.Run(ctx, s.client,
			[]string{sessionKeyPrefix + id, activeIndexKey},
			now.UnixMilli(), s.ttl.Milliseconds(), id, userKeyPrefix,
		).Slice()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire session %s: %w", id, err)
		}
		sess, err := decodeSession(res)
		if err != nil {
			return expired, err
		}
		expired = append(expired, *sess)
	}
	return expired, nil
}

// decodeSession converts an HGETALL reply returned from a script.
func decodeSession(reply []interface{}) (*model.ClickSession, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("malformed session reply of length %d", len(reply))
	}
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		fields[k] = v
	}
	return sessionFromHash(fields)
}

func sessionFromHash(fields map[string]string) (*model.ClickSession, error) {
	var err error
	intField := func(name string) int64 {
		if err != nil || fields[name] == "" {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(fields[name], 10, 64)
		return v
	}
	floatField := func(name string) float64 {
		if err != nil || fields[name] == "" {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(fields[name], 64)
		return v
	}

	sess := &model.ClickSession{
		SessionID:       fields["session_id"],
		UserID:          fields["user_id"],
		StartedAt:       time.UnixMilli(intField("started_at")).UTC(),
		LastActivityAt:  time.UnixMilli(intField("last_activity_at")).UTC(),
		DurationSeconds: intField("duration_seconds"),
		ClickCount:      intField("click_count"),
		ConversionCount: intField("conversion_count"),
		TotalRevenue:    floatField("total_revenue"),
		TotalCommission: floatField("total_commission"),
		IsActive:        fields["is_active"] == "1",
	}
	if ended := intField("ended_at"); ended > 0 {
		t := time.UnixMilli(ended).UTC()
		sess.EndedAt = &t
	}
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sess.SessionID, err)
	}
	return sess, nil
}
