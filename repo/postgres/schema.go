package postgres

// schema is applied by Migrate on startup. It is intentionally a single
// idempotent script (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) rather than a numbered migration chain, since spec.md does not
// describe a schema evolution story and the application DB here has exactly
// three tables (spec.md §6 "Persistence layout").
const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	workflow_id    TEXT PRIMARY KEY,
	issue_id       TEXT NOT NULL,
	worktree_path  TEXT NOT NULL,
	worktree_name  TEXT NOT NULL,
	profile_name   TEXT NOT NULL,
	status         TEXT NOT NULL,
	current_stage  TEXT,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	planned_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	pipeline_state JSONB NOT NULL DEFAULT '{}'::jsonb,
	plan_markdown  TEXT NOT NULL DEFAULT '',
	plan_summary   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS workflows_status_idx ON workflows (status);
CREATE INDEX IF NOT EXISTS workflows_worktree_path_idx ON workflows (worktree_path);
CREATE INDEX IF NOT EXISTS workflows_started_at_id_idx ON workflows (started_at DESC, workflow_id DESC);

CREATE TABLE IF NOT EXISTS workflow_events (
	workflow_id TEXT NOT NULL,
	sequence    BIGINT NOT NULL,
	event_id    UUID NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	event_type  TEXT NOT NULL,
	agent       TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	data        JSONB,
	PRIMARY KEY (workflow_id, sequence)
);

CREATE INDEX IF NOT EXISTS workflow_events_workflow_timestamp_idx
	ON workflow_events (workflow_id, timestamp);

CREATE TABLE IF NOT EXISTS token_usage (
	workflow_id        TEXT NOT NULL,
	agent              TEXT NOT NULL,
	input_tokens       BIGINT NOT NULL DEFAULT 0,
	output_tokens      BIGINT NOT NULL DEFAULT 0,
	total_tokens       BIGINT NOT NULL DEFAULT 0,
	estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (workflow_id, agent)
);
`
