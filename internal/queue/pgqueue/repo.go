package pgqueue

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nudge/internal/job"
)

type Repo struct {
	DB *gorm.DB
}

// Upsert inserts j, or overwrites the pending job with the same key in the
// same statement. The conflict target is the partial unique index on
// pending keys, so concurrent upserts for one key serialize on it.
func (r *Repo) Upsert(ctx context.Context, j *Job) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_key"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "status = 'pending'"},
		}},
		DoUpdates: clause.AssignmentColumns([]string{
			"queue", "category", "entity_id", "fund_id", "payload", "run_at",
			"attempts", "max_attempts", "last_error", "updated_at",
		}),
	}).Create(j).Error
}

// Cancel marks the pending job for key cancelled. Executing jobs are left alone.
func (r *Repo) Cancel(ctx context.Context, key string) (bool, error) {
	res := r.DB.WithContext(ctx).Exec(`
update notification_jobs
set status = 'cancelled', finished_at = now(), updated_at = now()
where job_key = ? and status = 'pending'`, key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Claim one due job atomically using SKIP LOCKED. The attempt is counted
// here, before the handler runs, so a job that kills its worker still uses
// up an attempt.
func (r *Repo) Claim(ctx context.Context, queue, workerID string) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).Raw(`
with cte as (
  select id
  from notification_jobs
  where queue = ? and status = 'pending' and run_at <= now()
  order by run_at asc
  for update skip locked
  limit 1
)
update notification_jobs
set status = 'executing', attempts = attempts + 1, locked_by = ?, locked_at = now(), updated_at = now()
where id in (select id from cte)
returning *;
`, queue, workerID).Scan(&j).Error
	if err != nil {
		return nil, err
	}
	if j.ID == 0 {
		return nil, nil
	}
	return &j, nil
}

func (r *Repo) MarkDone(ctx context.Context, id uint64, attempts int) error {
	return r.DB.WithContext(ctx).Exec(`
update notification_jobs
set status = 'completed', attempts = ?, locked_by = null, locked_at = null, finished_at = now(), updated_at = now()
where id = ?`, attempts, id).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, attempts int, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(`
update notification_jobs
set status = 'failed', attempts = ?, last_error = ?, locked_by = null, locked_at = null, finished_at = now(), updated_at = now()
where id = ?`, attempts, errMsg, id).Error
}

// RetryLater puts an executing job back to pending. If the key was
// rescheduled while the job ran, the newer pending job wins and this one is
// cancelled instead.
func (r *Repo) RetryLater(ctx context.Context, id uint64, key string, attempts int, runAt time.Time, errMsg string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Job{}).
			Where("job_key = ? AND status = ?", key, string(job.StatusPending)).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return tx.Exec(`
update notification_jobs
set status = 'cancelled', attempts = ?, last_error = ?, locked_by = null, locked_at = null, finished_at = now(), updated_at = now()
where id = ?`, attempts, errMsg, id).Error
		}
		return tx.Exec(`
update notification_jobs
set status = 'pending',
    attempts = ?,
    run_at = ?,
    locked_by = null,
    locked_at = null,
    last_error = ?,
    updated_at = now()
where id = ?`, attempts, runAt, errMsg, id).Error
	})
}

// RequeueStale handles executing jobs whose lease expired. Jobs with
// attempts left go back to pending so a crashed worker's job is redelivered;
// jobs that used their last attempt are marked failed and returned.
func (r *Repo) RequeueStale(ctx context.Context, lease time.Duration) (int64, []Job, error) {
	var exhausted []Job
	var requeued int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
update notification_jobs
set status = 'failed', last_error = 'lease expired', locked_by = null, locked_at = null, finished_at = now(), updated_at = now()
where status = 'executing'
  and locked_at < now() - make_interval(secs => ?)
  and attempts >= max_attempts
returning *`, lease.Seconds()).Scan(&exhausted).Error; err != nil {
			return err
		}
		res := tx.Exec(`
update notification_jobs j
set status = 'pending', last_error = 'lease expired', locked_by = null, locked_at = null, updated_at = now()
where j.status = 'executing'
  and j.locked_at < now() - make_interval(secs => ?)
  and j.attempts < j.max_attempts
  and not exists (
    select 1 from notification_jobs p
    where p.job_key = j.job_key and p.status = 'pending'
  )`, lease.Seconds())
		requeued = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, nil, err
	}
	return requeued, exhausted, nil
}

// Purge deletes finished jobs older than before.
func (r *Repo) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Exec(`
delete from notification_jobs
where status in ('completed', 'failed', 'cancelled') and finished_at < ?`, before)
	return res.RowsAffected, res.Error
}

// Latest returns the newest row for key, whatever its status.
func (r *Repo) Latest(ctx context.Context, key string) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).Where("job_key = ?", key).Order("id desc").First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}
