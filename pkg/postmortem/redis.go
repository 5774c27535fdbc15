package postmortem

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
)

// Cmdable is the subset of the go-redis API the Redis sink uses. It is
// satisfied by [*redis.Client] and by mocks in tests.
type Cmdable interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// RedisSink appends incident records to a Redis list capped at
// MaxReports entries. It is safe for concurrent use.
type RedisSink struct {
	cmd        Cmdable
	key        string
	maxReports int
	tracer     trace.Tracer
}

// NewRedisSink validates cfg, connects and pings the server.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInvalidParam, "postmortem: invalid redis configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, kerr.Wrap(err, kerr.CodeInvalidParam, "postmortem: failed to parse redis uri")
		}
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
	}
	opts.DialTimeout = cfg.DialTimeout

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, wrapError(err, "postmortem: failed to reach redis")
	}
	return NewRedisSinkFromClient(rdb, cfg.Key, cfg.MaxReports), nil
}

// NewRedisSinkFromClient wraps an existing client. Empty key and
// non-positive maxReports fall back to the package defaults.
func NewRedisSinkFromClient(cmd Cmdable, key string, maxReports int) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	if maxReports <= 0 {
		maxReports = DefaultRedisMaxReports
	}
	return &RedisSink{
		cmd:        cmd,
		key:        key,
		maxReports: maxReports,
		tracer:     otel.Tracer(tracerName),
	}
}

// Key returns the list the sink writes to.
func (s *RedisSink) Key() string { return s.key }

// Record appends inc as JSON and trims the list to the newest
// MaxReports entries.
func (s *RedisSink) Record(ctx context.Context, inc *models.Incident) error {
	if err := checkIncident(inc); err != nil {
		return err
	}
	body, err := json.Marshal(inc)
	if err != nil {
		return kerr.Wrap(err, kerr.CodeInvalidParam, "postmortem: failed to encode incident")
	}

	ctx, span := startSpan(ctx, s.tracer, "postmortem.redis.Record", "redis",
		fmt.Sprintf("RPUSH %s %s", s.key, inc.ID))
	err = s.cmd.RPush(ctx, s.key, body).Err()
	if err == nil {
		err = s.cmd.LTrim(ctx, s.key, int64(-s.maxReports), -1).Err()
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postmortem: redis write failed")
	}
	return nil
}

// Recent returns up to n records, oldest first. A non-positive n returns
// the whole list.
func (s *RedisSink) Recent(ctx context.Context, n int) ([]*models.Incident, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}

	ctx, span := startSpan(ctx, s.tracer, "postmortem.redis.Recent", "redis",
		fmt.Sprintf("LRANGE %s %d -1", s.key, start))
	vals, err := s.cmd.LRange(ctx, s.key, start, -1).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postmortem: redis read failed")
	}

	out := make([]*models.Incident, 0, len(vals))
	for _, v := range vals {
		var inc models.Incident
		if err := json.Unmarshal([]byte(v), &inc); err != nil {
			return nil, kerr.Wrap(err, kerr.CodeFileIO, "postmortem: corrupt incident record")
		}
		out = append(out, &inc)
	}
	return out, nil
}

// Health pings the server.
func (s *RedisSink) Health(ctx context.Context) error {
	if err := s.cmd.Ping(ctx).Err(); err != nil {
		return wrapError(err, "postmortem: redis health check failed")
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.cmd.Close()
}
