package postgres

// The fetch predicate mirrors the eligibility rule: non-terminal state,
// due, and no live lease. The partial index below covers exactly that
// scan.
const schema = `
CREATE TABLE IF NOT EXISTS backlog_jobs (
	id           TEXT PRIMARY KEY,
	data         BYTEA,
	status       TEXT NOT NULL,
	retries      INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	added        TIMESTAMPTZ NOT NULL,
	due          TIMESTAMPTZ NOT NULL,
	leased_until TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS backlog_jobs_fetch_idx
	ON backlog_jobs (due)
	WHERE status IN ('scheduled', 'processing');
`

const insertJobSQL = `
INSERT INTO backlog_jobs (id, data, status, retries, last_error, added, due)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const fetchNextJobSQL = `
UPDATE backlog_jobs
SET leased_until = now() + make_interval(secs => $1)
WHERE id = (
	SELECT id FROM backlog_jobs
	WHERE status IN ('scheduled', 'processing')
	  AND due <= now()
	  AND (leased_until IS NULL OR leased_until <= now())
	ORDER BY due
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id
`

const getJobSQL = `
SELECT id, data, status, retries, last_error, added, due
FROM backlog_jobs
WHERE id = $1
`

const updateJobSQL = `
UPDATE backlog_jobs
SET data = $1, status = $2, retries = $3, last_error = $4, due = $5
WHERE id = $6
`

const releaseLeaseSQL = `
UPDATE backlog_jobs
SET leased_until = NULL
WHERE id = $1
`
