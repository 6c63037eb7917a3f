// Review queue component for caching resolved targets (the posts and
// accounts reviewables point at) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// This is used by the caching target resolver so that rendering a queue page
// does not hit the content service once per item.
package cachestore
