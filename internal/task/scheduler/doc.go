// Package scheduler triggers the engine's periodic jobs (dispatch poll, risk audit)
// from cron expressions or fixed intervals.
//
// Jobs run on their own goroutine with a per-run timeout. A trigger that fires
// while the previous run of the same schedule is still in flight is skipped.
package scheduler
