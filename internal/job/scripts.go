package job

import "github.com/redis/go-redis/v9"

// Every state transition is one script so that it is atomic on the server.
// Times are passed in as unix milliseconds; the scripts never read the
// server clock.

const trimFunc = `
local function trim(set, keep, prefix)
  local excess = redis.call('ZCARD', set) - keep
  if excess > 0 then
    local old = redis.call('ZRANGE', set, 0, excess - 1)
    for _, id in ipairs(old) do
      redis.call('DEL', prefix .. id)
    end
    redis.call('ZREMRANGEBYRANK', set, 0, excess - 1)
  end
end
`

// KEYS: job, pending, completed, failed
// ARGV: id, delay_until, field/value pairs...
// Returns 1 when created, 0 when a live job with the id exists.
var enqueueScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'waiting' or state == 'delayed' or state == 'active' then
  return 0
end
if state then
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('ZREM', KEYS[4], ARGV[1])
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// KEYS: pending, active
// ARGV: now, lease_until, owner, job key prefix
// Returns the claimed job hash or nil.
var claimScript = redis.NewScript(`
for i = 1, 16 do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #ids == 0 then
    return false
  end
  local id = ids[1]
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    redis.call('HSET', key, 'state', 'active', 'lease_owner', ARGV[3],
      'lease_until', ARGV[2], 'processed_at', ARGV[1])
    redis.call('HINCRBY', key, 'attempts_made', 1)
    return redis.call('HGETALL', key)
  end
end
return false
`)

// KEYS: job, active, completed
// ARGV: id, owner, now, keep, job key prefix, result
var completeScript = redis.NewScript(trimFunc + `
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or
   redis.call('HGET', KEYS[1], 'lease_owner') ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed', 'finished_at', ARGV[3],
  'lease_owner', '', 'lease_until', '', 'result', ARGV[6])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
trim(KEYS[3], tonumber(ARGV[4]), ARGV[5])
return 1
`)

// KEYS: job, active, pending, failed
// ARGV: id, owner, now, retry (1/0), retry_at, keep, job key prefix, error
// Returns 1 when scheduled for retry, 0 when terminally failed.
var failScript = redis.NewScript(trimFunc + `
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or
   redis.call('HGET', KEYS[1], 'lease_owner') ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'last_error', ARGV[8], 'lease_owner', '', 'lease_until', '')
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'state', 'delayed', 'delay_until', ARGV[5])
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
  return 1
end
redis.call('HSET', KEYS[1], 'state', 'failed', 'finished_at', ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
trim(KEYS[4], tonumber(ARGV[6]), ARGV[7])
return 0
`)

// KEYS: job, active
// ARGV: id, owner, lease_until
var renewScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or
   redis.call('HGET', KEYS[1], 'lease_owner') ~= ARGV[2] then
  return -1
end
redis.call('HSET', KEYS[1], 'lease_until', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// KEYS: active, pending, failed
// ARGV: now, job key prefix, keep failed
// Returns {requeued, failed job hash...}. The failed hashes are read before
// trimming so callers can report them.
var reclaimScript = redis.NewScript(trimFunc + `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local out = {0}
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', key) == 1 then
    local made = tonumber(redis.call('HGET', key, 'attempts_made') or '0')
    local max = tonumber(redis.call('HGET', key, 'max_attempts') or '1')
    redis.call('HSET', key, 'lease_owner', '', 'lease_until', '', 'last_error', 'lease expired')
    if made >= max then
      redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[1])
      redis.call('ZADD', KEYS[3], ARGV[1], id)
      table.insert(out, redis.call('HGETALL', key))
    else
      redis.call('HSET', key, 'state', 'waiting', 'delay_until', ARGV[1])
      redis.call('ZADD', KEYS[2], ARGV[1], id)
      out[1] = out[1] + 1
    end
  end
end
if #out > 1 then
  trim(KEYS[3], tonumber(ARGV[3]), ARGV[2])
end
return out
`)
