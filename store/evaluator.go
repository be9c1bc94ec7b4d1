package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohanverma/ratelimitd/algorithm"
)

// Algorithm identifiers accepted by EvalParams.Algorithm. Kept as plain
// strings rather than the root package's Algorithm type so this package
// has no dependency on policy.go (store must not know about Policy).
const (
	AlgorithmTokenBucket = "token_bucket"
	AlgorithmLeakyBucket = "leaky_bucket"
)

// EvalParams carries everything the Evaluator needs to run one algorithm
// evaluation atomically against a key, expressed entirely in ticks so the
// Lua scripts and the in-process fallback share the same inputs as
// algorithm.Params.
type EvalParams struct {
	Algorithm       string
	PermitLimit     int64
	WindowTicks     int64
	BurstCapacity   int64
	PrecisionTicks  int64
	CooldownTicks   int64
	RequestedTokens int64
	NowTicks        int64
	TTL             time.Duration
}

// EvalOutcome is the result of one atomic evaluation.
type EvalOutcome struct {
	Allowed         bool
	Used            float64
	Remaining       float64
	Limit           int64
	RetryAfterTicks int64
	ResetAfterTicks int64
	// FailedOpen is true when the backend was unreachable or the script
	// errored and the evaluator admitted the request as a deliberate
	// availability-over-strictness fallback.
	FailedOpen bool
}

// Evaluator executes algorithm evaluation atomically against a Store. Against
// a scripting-capable backend (store/redis) the read-compute-write happens
// in a single server-side script; against a backend that returns
// ErrScriptNotSupported (store/memory) it falls back to running the
// algorithm package in-process under that store's own locking, via the
// hashLocker interface below.
type Evaluator struct {
	backend Store
	logger  zerolog.Logger

	shaMu sync.Mutex
	sha   map[string]string
}

// NewEvaluator wraps backend with atomic evaluation semantics.
func NewEvaluator(backend Store, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		backend: backend,
		logger:  logger,
		sha:     make(map[string]string),
	}
}

// Evaluate runs one atomic evaluation of p against key.
func (e *Evaluator) Evaluate(ctx context.Context, key string, p EvalParams) (EvalOutcome, error) {
	var script string
	switch p.Algorithm {
	case AlgorithmTokenBucket:
		script = tokenBucketScript
	case AlgorithmLeakyBucket:
		script = leakyBucketScript
	default:
		return EvalOutcome{}, fmt.Errorf("store: unknown algorithm %q", p.Algorithm)
	}

	ttlSeconds := int64(p.TTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	raw, err := e.runScripted(ctx, script, key, p, ttlSeconds)
	if err != nil {
		var notSupported *ErrScriptNotSupported
		if errors.As(err, &notSupported) {
			return e.evalFallback(key, p)
		}
		transient := &TransientStoreError{Key: key, Err: err}
		e.logger.Warn().Err(transient).Str("key", key).Msg("store: evaluator falling back to fail-open")
		return EvalOutcome{
			Allowed:    true,
			Remaining:  float64(p.BurstCapacity),
			Limit:      p.PermitLimit,
			FailedOpen: true,
		}, nil
	}
	return parseScriptReply(raw, p.PermitLimit)
}

// Reset deletes a key's accumulated state, e.g. for a manual unblock.
func (e *Evaluator) Reset(ctx context.Context, key string) error {
	return e.backend.Del(ctx, key)
}

// runScripted executes the script via EvalSha with a lazily-populated SHA1
// cache, reloading and retrying with Eval on a cache miss (NOSCRIPT).
func (e *Evaluator) runScripted(ctx context.Context, script, key string, p EvalParams, ttlSeconds int64) (interface{}, error) {
	args := []interface{}{
		p.NowTicks, p.PermitLimit, p.WindowTicks, p.BurstCapacity,
		p.PrecisionTicks, p.RequestedTokens, ttlSeconds, p.CooldownTicks,
	}

	e.shaMu.Lock()
	sha, cached := e.sha[script]
	e.shaMu.Unlock()

	if cached {
		res, err := e.backend.EvalSha(ctx, sha, []string{key}, args...)
		if err == nil {
			return res, nil
		}
		if !strings.Contains(err.Error(), "NOSCRIPT") {
			return nil, err
		}
	}

	loaded, err := e.backend.ScriptLoad(ctx, script)
	if err == nil {
		e.shaMu.Lock()
		e.sha[script] = loaded
		e.shaMu.Unlock()
	}
	return e.backend.Eval(ctx, script, []string{key}, args...)
}

// hashLocker is implemented by store/memory.Store. Declared locally to
// avoid importing store/memory, which would create an import cycle
// (memory imports this package for ErrKeyNotFound/ErrScriptNotSupported).
type hashLocker interface {
	EvalHashLocal(key string, ttl time.Duration, compute func(fields map[string]string, ok bool) map[string]string) map[string]string
}

func (e *Evaluator) evalFallback(key string, p EvalParams) (EvalOutcome, error) {
	locker, ok := e.backend.(hashLocker)
	if !ok {
		return EvalOutcome{
			Allowed:    true,
			Remaining:  float64(p.BurstCapacity),
			Limit:      p.PermitLimit,
			FailedOpen: true,
		}, nil
	}

	params := algorithm.Params{
		PermitLimit:    p.PermitLimit,
		WindowTicks:    p.WindowTicks,
		BurstCapacity:  p.BurstCapacity,
		PrecisionTicks: p.PrecisionTicks,
		CooldownTicks:  p.CooldownTicks,
	}

	var out EvalOutcome
	var evalErr error
	locker.EvalHashLocal(key, p.TTL, func(fields map[string]string, ok bool) map[string]string {
		switch p.Algorithm {
		case AlgorithmTokenBucket:
			state := TokenBucketState{}
			if ok {
				state.Tokens = parseFloat(fields["tokens"])
				state.LastRefillTicks = parseInt(fields["last_refill"])
			}
			newState, res, err := algorithm.EvaluateTokenBucket(state, params, p.NowTicks, p.RequestedTokens)
			evalErr = err
			out = outcomeFromResult(res)
			return map[string]string{
				"tokens":      formatFloat(newState.Tokens),
				"last_refill": strconv.FormatInt(newState.LastRefillTicks, 10),
			}
		case AlgorithmLeakyBucket:
			state := LeakyBucketState{}
			if ok {
				state.WaterLevel = parseFloat(fields["water_level"])
				state.LastDripTicks = parseInt(fields["last_drip"])
			}
			newState, res, err := algorithm.EvaluateLeakyBucket(state, params, p.NowTicks, p.RequestedTokens)
			evalErr = err
			out = outcomeFromResult(res)
			return map[string]string{
				"water_level": formatFloat(newState.WaterLevel),
				"last_drip":   strconv.FormatInt(newState.LastDripTicks, 10),
			}
		default:
			evalErr = fmt.Errorf("store: unknown algorithm %q", p.Algorithm)
			return fields
		}
	})
	return out, evalErr
}

// TokenBucketState/LeakyBucketState mirror algorithm's state shapes for the
// purposes of (de)serializing hash fields in the fallback path.
type TokenBucketState = algorithm.TokenBucketState
type LeakyBucketState = algorithm.LeakyBucketState

func outcomeFromResult(res algorithm.Result) EvalOutcome {
	return EvalOutcome{
		Allowed:         res.Allowed,
		Used:            res.Used,
		Remaining:       res.Remaining,
		Limit:           res.Limit,
		RetryAfterTicks: res.RetryAfterTicks,
		ResetAfterTicks: res.ResetAfterTicks,
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseScriptReply decodes the flat five-string tuple the Lua scripts
// return: (allowed, used, remaining, retryAfterTicks, resetAfterTicks).
// Every field is emitted through tostring() on the Lua side so floats keep
// full precision across the RESP boundary instead of being truncated to
// Redis's native integer reply type.
func parseScriptReply(raw interface{}, permitLimit int64) (EvalOutcome, error) {
	items, ok := raw.([]interface{})
	if !ok || len(items) < 5 {
		return EvalOutcome{}, fmt.Errorf("store: unexpected script reply shape: %#v", raw)
	}

	asString := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}

	allowed := asString(items[0]) == "1"
	used := parseFloat(asString(items[1]))
	remaining := parseFloat(asString(items[2]))
	retryAfter := parseInt(asString(items[3]))
	resetAfter := parseInt(asString(items[4]))

	return EvalOutcome{
		Allowed:         allowed,
		Used:            used,
		Remaining:       remaining,
		Limit:           permitLimit,
		RetryAfterTicks: retryAfter,
		ResetAfterTicks: resetAfter,
	}, nil
}

// tokenBucketScript mirrors algorithm.EvaluateTokenBucket step for step so
// the distributed and in-process evaluations never diverge. Ticks are
// passed as Lua numbers (53-bit mantissa covers the tick ranges this
// service deals in); all returned values are tostring()-wrapped to avoid
// RESP integer truncation of the float64 fields.
const tokenBucketScript = `
local key = KEYS[1]
local now_ticks = tonumber(ARGV[1])
local permit_limit = tonumber(ARGV[2])
local window_ticks = tonumber(ARGV[3])
local burst_capacity = tonumber(ARGV[4])
local precision_ticks = tonumber(ARGV[5])
local requested_tokens = tonumber(ARGV[6])
local ttl_seconds = tonumber(ARGV[7])
local cooldown_ticks = tonumber(ARGV[8])

local refill_rate = permit_limit / window_ticks

local data = redis.call('HGETALL', key)
local tokens
local last_refill

if #data == 0 then
  tokens = burst_capacity
  last_refill = now_ticks
else
  local fields = {}
  for i = 1, #data, 2 do
    fields[data[i]] = data[i + 1]
  end
  tokens = tonumber(fields['tokens'])
  last_refill = tonumber(fields['last_refill'])
end

local elapsed = now_ticks - last_refill
if elapsed < 0 then elapsed = 0 end

if elapsed > 0 then
  tokens = math.min(burst_capacity, tokens + elapsed * refill_rate)
end

local requested = math.min(requested_tokens, burst_capacity)

local allowed = 0
local used = 0
local retry_after = 0

if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
  used = requested
else
  local shortage = requested - tokens
  local ticks_until = math.max(precision_ticks, math.ceil(shortage / refill_rate))
  retry_after = math.min(window_ticks, ticks_until)
  if cooldown_ticks > 0 then
    retry_after = math.max(retry_after, cooldown_ticks)
  end
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now_ticks))
redis.call('EXPIRE', key, ttl_seconds)

local ticks_to_full = (burst_capacity - tokens) / refill_rate
ticks_to_full = math.max(precision_ticks, math.min(window_ticks, math.ceil(ticks_to_full)))
local remaining = math.max(0, tokens)

return { tostring(allowed), tostring(used), tostring(remaining), tostring(retry_after), tostring(ticks_to_full) }
`

// leakyBucketScript mirrors algorithm.EvaluateLeakyBucket.
const leakyBucketScript = `
local key = KEYS[1]
local now_ticks = tonumber(ARGV[1])
local permit_limit = tonumber(ARGV[2])
local window_ticks = tonumber(ARGV[3])
local burst_capacity = tonumber(ARGV[4])
local precision_ticks = tonumber(ARGV[5])
local requested_tokens = tonumber(ARGV[6])
local ttl_seconds = tonumber(ARGV[7])
local cooldown_ticks = tonumber(ARGV[8])

local leak_rate = permit_limit / window_ticks

local data = redis.call('HGETALL', key)
local water_level
local last_drip

if #data == 0 then
  water_level = 0
  last_drip = now_ticks
else
  local fields = {}
  for i = 1, #data, 2 do
    fields[data[i]] = data[i + 1]
  end
  water_level = tonumber(fields['water_level'])
  last_drip = tonumber(fields['last_drip'])
end

local elapsed = now_ticks - last_drip
if elapsed < 0 then elapsed = 0 end

if elapsed > 0 then
  water_level = math.max(0, water_level - elapsed * leak_rate)
end

local requested = math.min(requested_tokens, burst_capacity)

local allowed = 0
local used = 0
local retry_after = 0

if water_level + requested <= burst_capacity then
  water_level = water_level + requested
  allowed = 1
  used = requested
else
  local overflow = (water_level + requested) - burst_capacity
  retry_after = math.max(precision_ticks, math.ceil(overflow / leak_rate))
  retry_after = math.min(window_ticks, retry_after)
  if cooldown_ticks > 0 then
    retry_after = math.max(retry_after, cooldown_ticks)
  end
end

redis.call('HSET', key, 'water_level', tostring(water_level), 'last_drip', tostring(now_ticks))
redis.call('EXPIRE', key, ttl_seconds)

local reset_after = math.max(precision_ticks, math.min(window_ticks, math.ceil(water_level / leak_rate)))
local remaining = math.max(0, burst_capacity - water_level)

return { tostring(allowed), tostring(used), tostring(remaining), tostring(retry_after), tostring(reset_after) }
`
