// Package engine provides the asynchronous job scheduler and the scan
// pipeline it runs. The Scheduler admits jobs into a bounded active set,
// threads a cancellation token through each run, records progress through
// the job store, and announces lifecycle changes on the EventBus.
package engine
