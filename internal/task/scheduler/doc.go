// Package scheduler fires registered jobs on cron, interval, or
// time-of-day triggers.
//
// Each schedule runs at most once at a time: a trigger that arrives while
// the previous run of the same schedule is still in flight is skipped,
// logged, and published as a task.skipped event. Runs get a per-schedule
// timeout derived from the service context, so Stop cancels them.
package scheduler
