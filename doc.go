/*
Package hlldb implements a disk-backed collection of HyperLogLog cardinality
counters, keyed by arbitrary string identifiers and persisted in a single
file through memory mapping.

A caller adds opaque byte-string elements under a chosen key (store.Container.Add)
and later queries an approximate count of distinct elements observed for
that key (store.Container.Count). Multiple independent files may be merged
register-wise (store.Container.Merge).

The HyperLogLog estimator itself lives in the hll package, the fixed-offset
window into the mapped file lives in the register package, and the SHA-1
based hasher lives in the hash package. This root package only holds the
error kinds and small utilities shared across those packages, the same role
gostatix's own root package plays for its bloom filter, cuckoo filter,
count-min sketch and top-k sketches.
*/
package hlldb
