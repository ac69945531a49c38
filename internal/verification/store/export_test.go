package store

// CacheKey exposes cacheKey to the external integration suite.
var CacheKey = cacheKey
