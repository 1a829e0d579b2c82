package dedup

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

func exerciseIndex(t *testing.T, idx Index) {
	ctx := context.Background()
	a := digest.FingerprintOf([]byte("a"))
	b := digest.FingerprintOf([]byte("b"))

	testCases := []struct {
		fp       digest.Fingerprint
		position uint64
		first    uint64
		found    bool
	}{
		{a, 0, 0, false},
		{b, 1, 1, false},
		{a, 2, 0, true},
		{b, 3, 1, true},
		{a, 4, 0, true},
	}
	for _, tc := range testCases {
		first, found, err := idx.LookupOrInsert(ctx, tc.fp, tc.position)
		require.NoError(t, err)
		assert.Equal(t, tc.found, found, "position %d", tc.position)
		assert.Equal(t, tc.first, first, "position %d", tc.position)
	}
	assert.Equal(t, 2, idx.Len())
}

func TestMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex()
	exerciseIndex(t, idx)
	assert.NoError(t, idx.Close())
}

func TestRedisIndex(t *testing.T) {
	addr := os.Getenv("BLKIMG_TEST_REDIS")
	if addr == "" {
		t.Skip("BLKIMG_TEST_REDIS not set")
	}
	idx, err := NewRedisIndex(addr, uuid.NewString(), nil)
	require.NoError(t, err)
	exerciseIndex(t, idx)

	exists, err := idx.rdb.Exists(context.Background(), idx.Key()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	assert.NoError(t, idx.Close())
}

func TestRedisIndexUnreachable(t *testing.T) {
	_, err := NewRedisIndex("127.0.0.1:1", "run", &RedisConfig{Retries: -1})
	assert.Error(t, err)
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "")
	conf := &RedisConfig{Retries: 2}

	testCases := []struct {
		name     string
		addr     string
		addrs    []string
		master   string
		db       int
		password string
		mode     string
	}{
		{"single", "localhost:6379", []string{"localhost:6379"}, "", 0, "", "single-node"},
		{"scheme and db", "redis://10.0.0.1:6379/3", []string{"10.0.0.1:6379"}, "", 3, "", "single-node"},
		{"password", "redis://:s3cret@cache:6380/1", []string{"cache:6380"}, "", 1, "s3cret", "single-node"},
		{"cluster", "n1:7000,n2:7001,n3:7002", []string{"n1:7000", "n2:7001", "n3:7002"}, "", 0, "", "cluster"},
		{"sentinel", "mymaster,s1:26379,s2:26379/2", []string{"s1:26379", "s2:26379"}, "mymaster", 2, "", "sentinel"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := redisOptions(tc.addr, conf)
			require.NoError(t, err)
			assert.Equal(t, tc.addrs, opts.Addrs)
			assert.Equal(t, tc.master, opts.MasterName)
			assert.Equal(t, tc.db, opts.DB)
			assert.Equal(t, tc.password, opts.Password)
			assert.Equal(t, 2, opts.MaxRetries)
			assert.Equal(t, tc.mode, redisMode(opts))
		})
	}

	t.Run("password from environment", func(t *testing.T) {
		t.Setenv("REDIS_PASSWORD", "fromenv")
		opts, err := redisOptions("localhost:6379", conf)
		require.NoError(t, err)
		assert.Equal(t, "fromenv", opts.Password)
	})

	for _, addr := range []string{"localhost:6379/x", "localhost:6379/-1", "n1:7000,,n2:7000", "n1:7000,n2:7001/4", ""} {
		_, err := redisOptions(addr, conf)
		assert.ErrorIs(t, err, internal.ErrInvalidConfig, addr)
	}
}
