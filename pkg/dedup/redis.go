package dedup

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

const keyPrefix = "blkimg:dedup:"

type RedisConfig struct {
	Retries      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Keep leaves the run's hash in Redis after Close.
	Keep bool
}

// RedisIndex stores one hash per imaging run: field = fingerprint,
// value = first position.
type RedisIndex struct {
	rdb   redis.UniversalClient
	key   string
	keep  bool
	count int
}

// redisOptions parses [redis://][[user]:password@]hosts[/db]. hosts is one
// host:port, a cluster list host1:port,host2:port or a sentinel list whose
// first entry is the master name: mymaster,sentinel1:port,...
func redisOptions(addr string, conf *RedisConfig) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		MaxRetries:   conf.Retries,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
	}
	rest := strings.TrimPrefix(addr, "redis://")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		user, password, _ := strings.Cut(rest[:at], ":")
		opts.Username, opts.Password = user, password
		rest = rest[at+1:]
	}
	if opts.Password == "" {
		opts.Password = os.Getenv("REDIS_PASSWORD")
	}

	hostList, db, _ := strings.Cut(rest, "/")
	if db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: redis database %q in %q", internal.ErrInvalidConfig, db, addr)
		}
		opts.DB = n
	}

	hosts := strings.Split(hostList, ",")
	for _, h := range hosts {
		if h == "" {
			return nil, fmt.Errorf("%w: empty host in redis address %q", internal.ErrInvalidConfig, addr)
		}
	}
	switch {
	case len(hosts) > 1 && !strings.Contains(hosts[0], ":"):
		opts.MasterName, opts.Addrs = hosts[0], hosts[1:]
	case len(hosts) > 1 && opts.DB != 0:
		return nil, fmt.Errorf("%w: redis cluster %q has no database %d", internal.ErrInvalidConfig, addr, opts.DB)
	default:
		opts.Addrs = hosts
	}
	return opts, nil
}

func redisMode(opts *redis.UniversalOptions) string {
	switch {
	case opts.MasterName != "":
		return "sentinel"
	case len(opts.Addrs) > 1:
		return "cluster"
	default:
		return "single-node"
	}
}

func connectRedis(addr string, conf *RedisConfig) (redis.UniversalClient, error) {
	opts, err := redisOptions(addr, conf)
	if err != nil {
		return nil, err
	}
	logger.Infof("dedup index on redis (%s) %v db %d", redisMode(opts), opts.Addrs, opts.DB)

	rdb := redis.NewUniversalClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisIndex connects to addr and scopes the index to runID so concurrent
// or earlier runs never leak references into this image.
func NewRedisIndex(addr, runID string, conf *RedisConfig) (*RedisIndex, error) {
	if conf == nil {
		conf = &RedisConfig{}
	}
	rdb, err := connectRedis(addr, conf)
	if err != nil {
		return nil, err
	}
	idx := &RedisIndex{rdb: rdb, key: keyPrefix + runID, keep: conf.Keep}

	// A reused run id would resolve to positions of another stream.
	if err := rdb.Del(context.Background(), idx.key).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("reset %s: %w", idx.key, err)
	}
	return idx, nil
}

func (r *RedisIndex) Key() string {
	return r.key
}

func (r *RedisIndex) LookupOrInsert(ctx context.Context, fp digest.Fingerprint, position uint64) (uint64, bool, error) {
	field := string(fp[:])
	var setnx *redis.BoolCmd
	var get *redis.StringCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setnx = pipe.HSetNX(ctx, r.key, field, position)
		get = pipe.HGet(ctx, r.key, field)
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("dedup lookup %s: %w", fp, err)
	}
	if setnx.Val() {
		r.count++
		return position, false, nil
	}
	first, err := strconv.ParseUint(get.Val(), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("dedup lookup %s: bad position %q: %w", fp, get.Val(), err)
	}
	return first, true, nil
}

// Len counts the fingerprints this process inserted.
func (r *RedisIndex) Len() int {
	return r.count
}

func (r *RedisIndex) Close() error {
	if !r.keep {
		if err := r.rdb.Del(context.Background(), r.key).Err(); err != nil {
			logger.Warnf("failed to remove %s: %s", r.key, err)
		}
	}
	return r.rdb.Close()
}
