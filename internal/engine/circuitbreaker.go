package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker guards a mail transport, keyed by transport name, with its
// state kept in a Redis hash so every process sees the same circuit.
// State transitions: closed → open → half-open → closed
//
// - Closed: sends go through. Consecutive failures are counted.
// - Open: sends are rejected until the cooldown elapses.
// - Half-Open: a single probe send is let through. Success closes, failure re-opens.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	probeTimeout     time.Duration
}

// CircuitBreakerState is the snapshot reported by GetState.
type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: 5,
		cooldownPeriod:   30 * time.Second,
		probeTimeout:     time.Minute,
	}
}

func cbKey(name string) string {
	return fmt.Sprintf("cb:%s", name)
}

// AllowRequest reports the circuit state for name and whether a send may proceed.
// Redis errors fail open.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, name string) (string, bool) {
	key := cbKey(name)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return StateClosed, true
	}

	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	switch data["state"] {
	case StateOpen:
		if time.Now().Unix()-lastFailedAt < int64(cb.cooldownPeriod.Seconds()) {
			return StateOpen, false
		}
		cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
		cb.logger.Info("circuit breaker half-open", "transport", name)
		return StateHalfOpen, cb.claimProbe(ctx, key)

	case StateHalfOpen:
		return StateHalfOpen, cb.claimProbe(ctx, key)

	default:
		return StateClosed, true
	}
}

// claimProbeScript sets the probe field to the claim time unless a live
// probe holds it. A probe older than ARGV[2] seconds is presumed lost and
// taken over.
var claimProbeScript = redis.NewScript(`
local held = redis.call('HGET', KEYS[1], 'probe')
if held and tonumber(held) and tonumber(held) > tonumber(ARGV[1]) - tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'probe', ARGV[1])
return 1
`)

// claimProbe lets exactly one caller through while half-open.
func (cb *CircuitBreaker) claimProbe(ctx context.Context, key string) bool {
	ok, err := claimProbeScript.Run(ctx, cb.redisClient, []string{key},
		time.Now().Unix(), int64(cb.probeTimeout.Seconds())).Int()
	if err != nil {
		return true
	}
	return ok == 1
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, name string) {
	key := cbKey(name)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	pipe := cb.redisClient.TxPipeline()
	pipe.HSet(ctx, key, "state", StateClosed, "failures", 0)
	pipe.HDel(ctx, key, "probe")
	if _, err := pipe.Exec(ctx); err != nil {
		cb.logger.Error("failed to record circuit breaker success", "error", err, "transport", name)
		return
	}

	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "transport", name)
	}
}

// RecordFailure counts a failed send and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, name string) {
	key := cbKey(name)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err, "transport", name)
		return
	}

	cb.redisClient.HSet(ctx, key, "last_failed_at", time.Now().Unix())

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	switch {
	case state == StateHalfOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.redisClient.HDel(ctx, key, "probe")
		cb.logger.Warn("circuit breaker re-opened (probe failed)", "transport", name)
	case failures >= int64(cb.failureThreshold) && state != StateOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker opened",
			"transport", name,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the circuit state for name.
func (cb *CircuitBreaker) GetState(ctx context.Context, name string) CircuitBreakerState {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(name)).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	lastFailed, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
	if state == StateOpen && time.Now().Unix()-lastFailed >= int64(cb.cooldownPeriod.Seconds()) {
		state = StateHalfOpen
	}

	result := CircuitBreakerState{State: state, Failures: failures}
	if lastFailed > 0 {
		result.LastFailedAt = time.Unix(lastFailed, 0).UTC().Format(time.RFC3339)
	}
	return result
}
