// Package object provides the identity layer of the object store.
//
// Every managed object is owned by exactly one Proxy. Proxies live in the
// Store's table, addressed by the object id, and are threaded into one
// doubly-linked sequence per Prototype:
//   - Sequence links are ids (prev/next), never pointers to neighbours
//   - Iteration over a prototype follows insertion order; each proxy carries a
//     rank that grows along the sequence and is kept across a rollback
//   - External holders use a Handle, a (store, id, generation) lookup that
//     resolves to absent once the proxy is destroyed
//
// # Mutation hooks
//
// Insert, Modify and Remove notify the store's Observer at the point of
// mutation. The transaction layer uses these to record actions and capture
// pre-images. Detach, Overwrite and Reattach are the silent counterparts used
// while rolling back; they never notify.
//
// No synchronization is provided. A Store and everything reachable from it
// must be driven by one goroutine at a time.
package object
