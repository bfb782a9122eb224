package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"session-service/internal/config"
)

// BucketingManager assigns users and events to stable partition buckets.
// User buckets form part of the primary-store partition key, so the number
// of buckets must never change for a live keyspace.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// UserBucket returns the consistent bucket for a user id (0..userBuckets-1).
func (bm *BucketingManager) UserBucket(userID string) int {
	return bm.bucket(userID, bm.userBuckets)
}

// EventBucket returns the bucket for a security-event partition key.
func (bm *BucketingManager) EventBucket(identifier string) int {
	return bm.bucket(identifier, bm.eventBuckets)
}

// DateBucket returns the UTC date partition for event tables.
func (bm *BucketingManager) DateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) UserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) bucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.hash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) hash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
