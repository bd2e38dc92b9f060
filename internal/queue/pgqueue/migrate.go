package pgqueue

import (
	"fmt"

	"gorm.io/gorm"
)

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&Job{}); err != nil {
		return err
	}

	stmts := []string{
		// dedup: one pending job per key
		`create unique index if not exists uq_notification_jobs_pending_key on notification_jobs(job_key) where status = 'pending';`,
		`create index if not exists idx_notification_jobs_due on notification_jobs(queue, status, run_at);`,
		`create index if not exists idx_notification_jobs_lock on notification_jobs(status, locked_at);`,
		`create index if not exists idx_notification_jobs_finished on notification_jobs(finished_at) where finished_at is not null;`,
		`create index if not exists idx_notification_jobs_key on notification_jobs(job_key, id desc);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}
