// Package job runs reporting jobs.
//
// Runner.Run executes one job: build the source, fetch a batch, optionally
// score one numeric column with the modified z-score and drop or flag the
// outliers, then reconcile the batch into the target table. Every run
// produces a Run record (ok | partial | failed) that is stored in History
// and handed to the registered Observers (alerts, metrics).
//
// Scheduler fires jobs from their cron expressions using robfig/cron with
// SkipIfStillRunning, so one job never overlaps itself inside a process.
// Concurrent processes, or Trigger racing a scheduled run, can still
// reconcile the same table at once; only a unique constraint on the key
// column prevents duplicate rows in that case.
//
// History keeps the last 50 runs per job, a success percentage over the last
// 20, and evicts jobs that have not run within its TTL.
package job
