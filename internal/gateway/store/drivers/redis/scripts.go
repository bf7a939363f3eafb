package redis

import goredis "github.com/redis/go-redis/v9"

// Every mutation of a family runs as one script so Redis executes it
// atomically. Token keys are derived inside the scripts, which ties the
// backend to a single primary (no cluster slot routing).

// KEYS: family, token, family token set, subject family set
// ARGV: family id, subject, tenant, created ms, expires ms, record id, token hash, issued ms, generation
var createFamilyScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "subject_id", ARGV[2], "tenant_id", ARGV[3], "generation", ARGV[9],
  "revoked", "0", "created_at", ARGV[4], "updated_at", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], ARGV[5])
redis.call("HSET", KEYS[2],
  "id", ARGV[6], "family_id", ARGV[1], "subject_id", ARGV[2], "tenant_id", ARGV[3],
  "generation", ARGV[9], "issued_at", ARGV[8], "expires_at", ARGV[5], "revoked", "0")
redis.call("PEXPIREAT", KEYS[2], ARGV[5])
redis.call("SADD", KEYS[3], ARGV[7])
redis.call("PEXPIREAT", KEYS[3], ARGV[5])
redis.call("SADD", KEYS[4], ARGV[1])
if redis.call("PTTL", KEYS[4]) == -1 then
  redis.call("PEXPIREAT", KEYS[4], ARGV[5])
else
  redis.call("PEXPIREAT", KEYS[4], ARGV[5], "GT")
end
return 1
`)

// KEYS: family, previous token, next token, family token set, subject family set
// ARGV: previous generation, next generation, next record id, next token hash,
// issued ms, expires ms, family id, subject, tenant
var advanceFamilyScript = goredis.NewScript(`
local fam = redis.call("HMGET", KEYS[1], "generation", "revoked")
if not fam[1] or fam[2] == "1" or fam[1] ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "generation", ARGV[2], "updated_at", ARGV[5])
redis.call("PEXPIREAT", KEYS[1], ARGV[6], "GT")
if redis.call("EXISTS", KEYS[2]) == 1 then
  redis.call("HSET", KEYS[2], "revoked", "1")
end
redis.call("HSET", KEYS[3],
  "id", ARGV[3], "family_id", ARGV[7], "subject_id", ARGV[8], "tenant_id", ARGV[9],
  "generation", ARGV[2], "issued_at", ARGV[5], "expires_at", ARGV[6], "revoked", "0")
redis.call("PEXPIREAT", KEYS[3], ARGV[6])
redis.call("SADD", KEYS[4], ARGV[4])
redis.call("PEXPIREAT", KEYS[4], ARGV[6], "GT")
redis.call("PEXPIREAT", KEYS[5], ARGV[6], "GT")
return 1
`)

// KEYS: family, family token set
// ARGV: token key prefix, now ms
// Returns 1 when newly revoked, 0 when already revoked, -1 when missing.
var revokeFamilyScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local was = redis.call("HGET", KEYS[1], "revoked")
redis.call("HSET", KEYS[1], "revoked", "1", "updated_at", ARGV[2])
for _, hash in ipairs(redis.call("SMEMBERS", KEYS[2])) do
  local key = ARGV[1] .. hash
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "revoked", "1")
  end
end
if was == "1" then
  return 0
end
return 1
`)
