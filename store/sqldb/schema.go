package sqldb

// schemaTemplate is shared by both dialects. {{amount}} and {{serial}} are
// replaced with the dialect's column definitions. Statements are separated
// by semicolons and executed one at a time.
const schemaTemplate = `
-- Leave types (reference data)
CREATE TABLE IF NOT EXISTS leave_types (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	pay                  TEXT NOT NULL,
	carry_forward        BOOLEAN NOT NULL,
	max_carry_forward    {{amount}} NOT NULL,
	max_consecutive_days {{amount}} NOT NULL,
	count_holidays       BOOLEAN NOT NULL,
	approval_chain_json  TEXT NOT NULL
);

-- Directory
CREATE TABLE IF NOT EXISTS employees (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	holiday_list_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approvers (
	employee_id TEXT NOT NULL,
	role        TEXT NOT NULL,
	approver_id TEXT NOT NULL,
	PRIMARY KEY (employee_id, role)
);

CREATE TABLE IF NOT EXISTS holidays (
	id        TEXT PRIMARY KEY,
	list_id   TEXT NOT NULL,
	date      TEXT NOT NULL,
	name      TEXT NOT NULL,
	recurring BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_holidays_list ON holidays(list_id, date);

-- Ledger rows
CREATE TABLE IF NOT EXISTS allocations (
	employee_id   TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	period_start  TEXT NOT NULL,
	period_end    TEXT NOT NULL,
	allocated     {{amount}} NOT NULL,
	carry_forward {{amount}} NOT NULL,
	used          {{amount}} NOT NULL,
	reserved      {{amount}} NOT NULL,
	carried_out   {{amount}} NOT NULL DEFAULT 0,
	version       BIGINT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (employee_id, leave_type_id, period_start)
);

CREATE TABLE IF NOT EXISTS reservations (
	id            TEXT PRIMARY KEY,
	employee_id   TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	period_start  TEXT NOT NULL,
	days          {{amount}} NOT NULL,
	state         TEXT NOT NULL,
	reference     TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	FOREIGN KEY (employee_id, leave_type_id, period_start)
		REFERENCES allocations(employee_id, leave_type_id, period_start)
);

-- Requests and their approval chain
CREATE TABLE IF NOT EXISTS leave_requests (
	id                 TEXT PRIMARY KEY,
	employee_id        TEXT NOT NULL,
	leave_type_id      TEXT NOT NULL,
	category           TEXT NOT NULL,
	half_day           TEXT NOT NULL,
	start_date         TEXT NOT NULL,
	end_date           TEXT NOT NULL,
	total_days         {{amount}} NOT NULL,
	reason             TEXT NOT NULL,
	contact            TEXT NOT NULL,
	address            TEXT NOT NULL,
	document_refs_json TEXT NOT NULL,
	status             TEXT NOT NULL,
	period_start       TEXT NOT NULL,
	reservation_id     TEXT NOT NULL REFERENCES reservations(id),
	cancelled_by       TEXT NOT NULL,
	cancel_reason      TEXT NOT NULL,
	cancelled_at       TEXT,
	submitted_at       TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	version            BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_employee ON leave_requests(employee_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_requests_status ON leave_requests(status);

CREATE TABLE IF NOT EXISTS leave_approvals (
	request_id  TEXT NOT NULL REFERENCES leave_requests(id),
	level       INTEGER NOT NULL,
	role        TEXT NOT NULL,
	approver_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	comments    TEXT NOT NULL,
	decided_at  TEXT,
	PRIMARY KEY (request_id, level)
);

CREATE INDEX IF NOT EXISTS idx_approvals_approver ON leave_approvals(approver_id, status);

-- Append-only journal
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq             {{serial}},
	id              TEXT NOT NULL UNIQUE,
	employee_id     TEXT NOT NULL,
	leave_type_id   TEXT NOT NULL,
	period_start    TEXT NOT NULL,
	entry_type      TEXT NOT NULL,
	delta           {{amount}} NOT NULL,
	reservation_id  TEXT NOT NULL,
	reference       TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	created_by      TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_employee ON ledger_entries(employee_id, seq);
`
