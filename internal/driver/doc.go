/*
Package driver orchestrates the race.

For each work-queue position the driver allocates a fresh barrier set
(ready, release, received), signals every worker to begin, waits for
all of them to reach ready with their tail bytes withheld, opens
release in a single store, waits for all response headers to arrive,
and advances. Workers whose queues are exhausted (callbacks may extend
queues unevenly) are pre-arrived at every subsequent barrier; positions
are never re-synchronized.

Transport, protocol, and callback failures stay local to one worker's
position. Barrier timeouts, invalid configuration, and context
cancellation are global: the driver aborts all outstanding barriers and
every worker reports the abort in its result.
*/
package driver
