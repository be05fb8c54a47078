package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// scriptedRedis returns a canned script result so the limiter's parsing and
// key construction can be exercised without a Redis server.
type scriptedRedis struct {
	redis.UniversalClient
	result interface{}
	err    error

	lastKeys []string
}

func (s *scriptedRedis) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	s.lastKeys = keys
	return redis.NewCmdResult(s.result, s.err)
}

func TestConsumeRateLimit_DisabledPathsAllowRequest(t *testing.T) {
	cases := []struct {
		name    string
		limiter *RedisCommandRateLimiter
		limit   int
		subject string
	}{
		{name: "nil limiter", limiter: nil, limit: 10, subject: "1.2.3.4"},
		{name: "nil client", limiter: NewRedisCommandRateLimiter(nil, ""), limit: 10, subject: "1.2.3.4"},
		{name: "zero limit", limiter: NewRedisCommandRateLimiter(&scriptedRedis{}, ""), limit: 0, subject: "1.2.3.4"},
		{name: "blank subject", limiter: NewRedisCommandRateLimiter(&scriptedRedis{}, ""), limit: 10, subject: "  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			count, retryAfter, err := tc.limiter.ConsumeRateLimit(context.Background(), "commands", tc.subject, tc.limit, time.Minute)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if count != 0 || retryAfter != 0 {
				t.Fatalf("expected zeroes from a disabled limiter, got count=%d retryAfter=%d", count, retryAfter)
			}
		})
	}
}

func TestConsumeRateLimit_CountsAndComputesRetryAfter(t *testing.T) {
	client := &scriptedRedis{result: []interface{}{int64(3), int64(2500)}}
	limiter := NewRedisCommandRateLimiter(client, "")

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "commands", "1.2.3.4", 10, time.Minute)
	if err != nil {
		t.Fatalf("ConsumeRateLimit returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
	// 2500ms remaining rounds up to 3 seconds.
	if retryAfter != 3 {
		t.Fatalf("expected retryAfter 3, got %d", retryAfter)
	}
	if len(client.lastKeys) != 1 || client.lastKeys[0] != "ledger:rate_limit:commands:1.2.3.4" {
		t.Fatalf("unexpected limiter key: %v", client.lastKeys)
	}
}

func TestConsumeRateLimit_NegativeTTLFallsBackToWindow(t *testing.T) {
	client := &scriptedRedis{result: []interface{}{int64(1), int64(-1)}}
	limiter := NewRedisCommandRateLimiter(client, "")

	_, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "commands", "1.2.3.4", 10, time.Minute)
	if err != nil {
		t.Fatalf("ConsumeRateLimit returned error: %v", err)
	}
	if retryAfter != 60 {
		t.Fatalf("expected retryAfter to fall back to the 60s window, got %d", retryAfter)
	}
}

func TestConsumeRateLimit_UnexpectedResponseShapeErrors(t *testing.T) {
	client := &scriptedRedis{result: int64(7)}
	limiter := NewRedisCommandRateLimiter(client, "")

	if _, _, err := limiter.ConsumeRateLimit(context.Background(), "commands", "1.2.3.4", 10, time.Minute); err == nil {
		t.Fatal("expected an error for a non-array script response")
	}
}
