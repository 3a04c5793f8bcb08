package postgresql

// migrations returns the schema migrations keyed by version. The unique
// constraints here are load-bearing: they are the write-time backstop for
// sequence ordering and exactly-once event admission.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS tenants (
				tenant_id   TEXT PRIMARY KEY,
				tenant_name TEXT NOT NULL,
				status      TEXT NOT NULL DEFAULT 'ACTIVE',
				config_json JSONB,
				created_at  TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at  TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS workflow_definitions (
				workflow_id TEXT NOT NULL,
				version     INTEGER NOT NULL,
				tenant_id   TEXT NOT NULL REFERENCES tenants(tenant_id),
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				definition  JSONB NOT NULL,
				deployed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active      BOOLEAN NOT NULL DEFAULT TRUE,
				CONSTRAINT workflow_definitions_pkey PRIMARY KEY (workflow_id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_definitions_active
				ON workflow_definitions(workflow_id, active, deployed_at DESC);

			CREATE TABLE IF NOT EXISTS execution_events (
				id                    TEXT PRIMARY KEY,
				execution_id          TEXT NOT NULL,
				sequence_number       BIGINT NOT NULL,
				event_type            TEXT NOT NULL,
				status                TEXT NOT NULL,
				node_id               TEXT,
				node_type             TEXT,
				node_name             TEXT,
				timestamp             TIMESTAMP WITH TIME ZONE NOT NULL,
				duration_ms           BIGINT,
				input_snapshot        JSONB,
				output_snapshot       JSONB,
				error_snapshot        JSONB,
				variables_snapshot    JSONB,
				edge_taken            TEXT,
				decision_result       TEXT,
				idempotency_key       TEXT NOT NULL,
				sealed                BOOLEAN NOT NULL DEFAULT FALSE,
				compensated           BOOLEAN NOT NULL DEFAULT FALSE,
				compensation_event_id TEXT,
				CONSTRAINT execution_events_sequence_key UNIQUE (execution_id, sequence_number),
				CONSTRAINT execution_events_idempotency_key UNIQUE (idempotency_key)
			);

			CREATE INDEX IF NOT EXISTS idx_events_execution_status
				ON execution_events(execution_id, status);

			CREATE INDEX IF NOT EXISTS idx_events_execution_node
				ON execution_events(execution_id, node_id);

			CREATE TABLE IF NOT EXISTS audit_log (
				id           TEXT PRIMARY KEY,
				execution_id TEXT,
				tenant_id    TEXT NOT NULL REFERENCES tenants(tenant_id),
				event_type   TEXT NOT NULL,
				event_data   JSONB,
				actor        TEXT NOT NULL DEFAULT '',
				timestamp    TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_audit_execution
				ON audit_log(execution_id, timestamp);

			CREATE INDEX IF NOT EXISTS idx_audit_tenant_window
				ON audit_log(tenant_id, timestamp);
		`,
	}
}
