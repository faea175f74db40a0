package sqlite

// Timestamps are stored as integer nanoseconds since the Unix epoch so
// comparisons stay exact across the driver boundary.
const schema = `
CREATE TABLE IF NOT EXISTS backlog_jobs (
	id           TEXT PRIMARY KEY,
	data         BLOB,
	status       TEXT NOT NULL,
	retries      INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	added        INTEGER NOT NULL,
	due          INTEGER NOT NULL,
	leased_until INTEGER
);

CREATE INDEX IF NOT EXISTS backlog_jobs_fetch_idx
	ON backlog_jobs (due)
	WHERE status IN ('scheduled', 'processing');
`

const insertJobSQL = `
INSERT INTO backlog_jobs (id, data, status, retries, last_error, added, due)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const fetchNextJobSQL = `
UPDATE backlog_jobs
SET leased_until = ?
WHERE id = (
	SELECT id FROM backlog_jobs
	WHERE status IN ('scheduled', 'processing')
	  AND due <= ?
	  AND (leased_until IS NULL OR leased_until <= ?)
	ORDER BY due
	LIMIT 1
)
RETURNING id
`

const getJobSQL = `
SELECT id, data, status, retries, last_error, added, due
FROM backlog_jobs
WHERE id = ?
`

const updateJobSQL = `
UPDATE backlog_jobs
SET data = ?, status = ?, retries = ?, last_error = ?, due = ?
WHERE id = ?
`

const releaseLeaseSQL = `
UPDATE backlog_jobs
SET leased_until = NULL
WHERE id = ?
`
