package redis

import redigo "github.com/gomodule/redigo/redis"

// promoteScript atomically moves a peer from the leecher table to the
// seeder table and increments the torrent's completed counter, mirroring
// the atomicity PromotePeerInSwarm gets for free from the in-memory
// driver's single swarm lock.
var promoteScript = redigo.NewScript(3, `
local removed = redis.call('HDEL', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
  redis.call('INCR', KEYS[3])
end
return removed
`)
