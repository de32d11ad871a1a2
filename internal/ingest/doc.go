// Package ingest drives message retrieval from the monitored channels and
// turns each message into at most one newly-seen mint address event.
//
// Two strategies share one processing step:
//   - poll: resolve target channels once, then repeatedly fetch recent history
//     through a bounded number of concurrent calls
//   - push: subscribe to a live feed filtered to the target channels
package ingest
