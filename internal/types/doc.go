/*
Package types holds the shared data model of the race harness:
request descriptors, response records with their timing marks, work
items, the race parameter bag, and the error classification used in
results.

Requests keep their headers as an ordered slice so the raced wire
bytes are reproducible. Responses carry the four synchronization
timestamps (connect, ready, release, first byte) that the driver and
the stats package reason about.
*/
package types
