package catalog

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/snapback/snapback/internal/data"
)

// reuseCacheShards bounds the memory a very large prior backup's File
// rows can consume in the Reuse Detector: rather than one unbounded
// map (which spec.md's plain caches use for blob_by_size/blob_by_hash,
// where the working set is inherently small), the reuse cache fans
// out across shards sized for millions of entries.
const reuseCacheShards = 16
const reuseCacheShardSize = 65536

// reuseCache is a sharded, bounded LRU cache from snapshot-relative
// path to the prior backup's File row at that path. Sharding by
// xxhash(path) keeps any single shard's LRU small enough that
// eviction scans stay cheap even for a million-file backup.
type reuseCache struct {
	shards [reuseCacheShards]*lru.Cache[string, *data.File]
}

func newReuseCache() *reuseCache {
	c := &reuseCache{}
	for i := range c.shards {
		l, err := lru.New[string, *data.File](reuseCacheShardSize)
		if err != nil {
			panic(err) // only fails for a non-positive size, which is constant here
		}
		c.shards[i] = l
	}
	return c
}

func (c *reuseCache) shardFor(path string) *lru.Cache[string, *data.File] {
	idx := xxhash.Sum64String(path) % reuseCacheShards
	return c.shards[idx]
}

func (c *reuseCache) Put(path string, f *data.File) {
	c.shardFor(path).Add(path, f)
}

func (c *reuseCache) Get(path string) (*data.File, bool) {
	return c.shardFor(path).Get(path)
}
