// Package resource governs process-wide build resources.
//
// A [Controller] bounds three things:
//
//   - Builds: a weighted semaphore caps concurrent segment and shard builds.
//     Waiting honours the caller's context.
//   - Memory: embedding buffers are accounted against an optional hard
//     limit. Acquisition is non-blocking and fails fast with
//     [ErrMemoryLimitExceeded] so the job layer can retry later.
//   - IO: staging writes pass through a token bucket ([Controller.Writer])
//     so that bulk builds do not starve searches of disk bandwidth.
//
// A nil *Controller is valid and imposes no limits.
package resource
