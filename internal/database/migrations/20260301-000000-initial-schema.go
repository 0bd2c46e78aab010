package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-000000",
		Description: "Initial schema",
		Up: []string{
			// Jobs - one row per uploaded timetable document
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				file_key TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				original_file_name TEXT NOT NULL,
				file_size INTEGER NOT NULL DEFAULT 0,
				teacher_name TEXT,
				class_name TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				processing_method TEXT,
				complexity TEXT,
				error_message TEXT,
				timetable_id TEXT,
				result_blob_key TEXT,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,

			// Timetables - extraction results, one per completed job
			`CREATE TABLE IF NOT EXISTS timetables (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				teacher_name TEXT,
				class_name TEXT,
				term TEXT,
				week TEXT,
				warnings_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_timetables_job_id ON timetables(job_id)`,

			// Time blocks - individual scheduled events within a timetable.
			// position preserves insertion order within a day.
			`CREATE TABLE IF NOT EXISTS time_blocks (
				id TEXT PRIMARY KEY,
				timetable_id TEXT NOT NULL REFERENCES timetables(id) ON DELETE CASCADE,
				position INTEGER NOT NULL DEFAULT 0,
				day TEXT NOT NULL,
				start_minutes INTEGER NOT NULL,
				end_minutes INTEGER NOT NULL,
				event_name TEXT NOT NULL,
				notes TEXT,
				color TEXT,
				confidence REAL NOT NULL DEFAULT 0,
				is_fixed INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_time_blocks_timetable_id ON time_blocks(timetable_id)`,
			`CREATE INDEX IF NOT EXISTS idx_time_blocks_day ON time_blocks(timetable_id, day)`,

			// Recurring blocks - fixtures (assembly, lunch) repeated across the week
			`CREATE TABLE IF NOT EXISTS recurring_blocks (
				id TEXT PRIMARY KEY,
				timetable_id TEXT NOT NULL REFERENCES timetables(id) ON DELETE CASCADE,
				position INTEGER NOT NULL DEFAULT 0,
				start_minutes INTEGER NOT NULL,
				end_minutes INTEGER NOT NULL,
				event_name TEXT NOT NULL,
				applies_daily INTEGER NOT NULL DEFAULT 1,
				notes TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_recurring_blocks_timetable_id ON recurring_blocks(timetable_id)`,

			// Retry logs - one row per failed processing attempt
			`CREATE TABLE IF NOT EXISTS retry_logs (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				attempt_num INTEGER NOT NULL,
				error_type TEXT NOT NULL,
				error_message TEXT,
				error_stack TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_retry_logs_job_id ON retry_logs(job_id)`,

			// Webhooks - completion notification targets with delivery state
			`CREATE TABLE IF NOT EXISTS webhooks (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				url TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				delivered INTEGER NOT NULL DEFAULT 0,
				last_attempt_at TEXT,
				delivered_at TEXT,
				error_message TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhooks_job_id ON webhooks(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_webhooks_pending ON webhooks(delivered, attempts)`,

			// Queue messages - at-least-once work queue with visibility timeouts
			`CREATE TABLE IF NOT EXISTS queue_messages (
				id TEXT PRIMARY KEY,
				body TEXT NOT NULL,
				receive_count INTEGER NOT NULL DEFAULT 0,
				visible_at TEXT NOT NULL,
				enqueued_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_queue_messages_visible_at ON queue_messages(visible_at)`,

			// Dead-letter queue - messages that exhausted their retries
			`CREATE TABLE IF NOT EXISTS queue_dlq (
				id TEXT PRIMARY KEY,
				body TEXT NOT NULL,
				receive_count INTEGER NOT NULL DEFAULT 0,
				error_kind TEXT,
				error_message TEXT,
				dead_lettered_at TEXT NOT NULL
			)`,
		},
	})
}
