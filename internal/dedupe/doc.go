// Package dedupe remembers recent results by key so that a repeated
// request can be answered with the original result instead of being
// processed twice. Entries expire after a TTL and the oldest entry is
// evicted when the cache is full.
//
// KeyedMutex complements Cache: holding the key's lock across the
// lookup, the work and the Put makes concurrent retries of one key run
// exactly once, while unrelated keys are not held up.
package dedupe
