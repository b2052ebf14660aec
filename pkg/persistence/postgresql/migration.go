package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflows: the stable identity grouping versions and goals
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				goal_match_mode VARCHAR(10) NOT NULL DEFAULT 'any' CHECK (goal_match_mode IN ('any', 'all')),
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			-- Versions: immutable-once-published graph snapshots.
			-- The trigger and node graph are stored as JSONB because a
			-- published version is read and executed whole, never edited
			-- row by row.
			CREATE TABLE workflow_versions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				number INT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'active', 'archived')),
				trigger JSONB,
				nodes JSONB NOT NULL DEFAULT '[]',
				is_current BOOLEAN NOT NULL DEFAULT FALSE,
				active_execution_count INT NOT NULL DEFAULT 0,
				lock_token UUID NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, number)
			);

			CREATE INDEX idx_versions_workflow_id ON workflow_versions(workflow_id);
			-- At most one current version per workflow
			CREATE UNIQUE INDEX idx_versions_current ON workflow_versions(workflow_id) WHERE is_current;

			-- Executions: one contact pinned to one version
			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				version_id UUID NOT NULL REFERENCES workflow_versions(id),
				contact_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				current_node_id VARCHAR(255),
				resume_at TIMESTAMP WITH TIME ZONE,
				wait_event VARCHAR(255),
				epoch INT NOT NULL DEFAULT 0,
				retry_counts JSONB,
				exit_requested JSONB,
				lock_token UUID NOT NULL,
				trigger_data JSONB,
				contact_data JSONB,
				step_results JSONB,
				termination_reason TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_contact ON executions(contact_id) WHERE status IN ('running', 'waiting');
			CREATE INDEX idx_executions_version ON executions(version_id) WHERE status IN ('running', 'waiting');
			CREATE INDEX idx_executions_status ON executions(status);
			-- One active enrollment per contact per workflow
			CREATE UNIQUE INDEX idx_executions_active_enrollment ON executions(contact_id, workflow_id)
				WHERE status IN ('running', 'waiting');

			-- Step audit trail; idempotency keys are unique among
			-- non-failed records so retries of a failed step can re-run
			CREATE TABLE execution_steps (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				kind VARCHAR(100) NOT NULL,
				attempt INT NOT NULL DEFAULT 0,
				idempotency_key VARCHAR(512) NOT NULL,
				status VARCHAR(20) NOT NULL,
				input JSONB,
				output JSONB,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_steps_execution ON execution_steps(execution_id);
			CREATE UNIQUE INDEX idx_steps_idempotency ON execution_steps(idempotency_key)
				WHERE status != 'failed';

			-- Goal configuration hangs off workflows
			CREATE TABLE goal_configs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				type VARCHAR(50) NOT NULL,
				criteria JSONB,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_goals_workflow ON goal_configs(workflow_id) WHERE active;

			CREATE TABLE goal_achievements (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				goal_id UUID NOT NULL REFERENCES goal_configs(id) ON DELETE CASCADE,
				workflow_id UUID NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(100) NOT NULL,
				achieved_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, goal_id)
			);

			CREATE INDEX idx_achievements_execution ON goal_achievements(execution_id);

			-- Migration jobs and per-contact outcomes
			CREATE TABLE migration_jobs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				source_version_id UUID NOT NULL REFERENCES workflow_versions(id),
				target_version_id UUID NOT NULL REFERENCES workflow_versions(id),
				strategy VARCHAR(20) NOT NULL,
				batch_size INT NOT NULL DEFAULT 100,
				action_mappings JSONB,
				contact_ids JSONB,
				status VARCHAR(20) NOT NULL,
				migrated_count INT NOT NULL DEFAULT 0,
				failed_count INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_migration_jobs_workflow ON migration_jobs(workflow_id);

			CREATE TABLE migration_records (
				id UUID PRIMARY KEY,
				job_id UUID NOT NULL REFERENCES migration_jobs(id) ON DELETE CASCADE,
				execution_id UUID NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				from_version_id UUID NOT NULL,
				to_version_id UUID NOT NULL,
				from_node_id VARCHAR(255),
				to_node_id VARCHAR(255),
				outcome VARCHAR(20) NOT NULL,
				error TEXT,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (job_id, execution_id)
			);

			CREATE INDEX idx_migration_records_job ON migration_records(job_id);

			-- Durable scheduler timers: one per execution
			CREATE TABLE timers (
				execution_id UUID PRIMARY KEY,
				resume_at TIMESTAMP WITH TIME ZONE NOT NULL,
				epoch INT NOT NULL DEFAULT 0,
				attempts INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_timers_resume_at ON timers(resume_at);

			-- Recurring enrollment schedules
			CREATE TABLE enrollment_schedules (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				cron_expression VARCHAR(100) NOT NULL,
				segment_id VARCHAR(255),
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_due ON enrollment_schedules(next_due_at) WHERE active;
		`,
	}
}
