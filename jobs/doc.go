// Package jobs runs index maintenance work in the background.
//
// Work arrives as BuildSegmentJob and CompactJob messages, either submitted
// directly or dropped as *.job.json files into a spool directory. A
// Dispatcher runs one lane per variant so that work on a variant is
// serialized, retries transient failures with exponential backoff, and
// records the outcome of every job in a Ledger. A job whose key the ledger
// already marks done is skipped, which makes resubmission safe.
package jobs
