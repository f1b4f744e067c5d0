package sqlite

const accountsSchema = `
	CREATE TABLE IF NOT EXISTS cloud_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		owner_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		regions TEXT NOT NULL DEFAULT '[]',
		last_scan_at TEXT NOT NULL DEFAULT ''
	);
`

const ruleOverridesSchema = `
	CREATE TABLE IF NOT EXISTS detection_rules (
		owner_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		rule TEXT NOT NULL,
		PRIMARY KEY (owner_id, resource_type)
	);
`

const scanJobsSchema = `
	CREATE TABLE IF NOT EXISTS scan_jobs (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		status TEXT NOT NULL,
		job JSON NOT NULL,
		created_at TEXT NOT NULL
	);
`

const scanLocksSchema = `
	CREATE TABLE IF NOT EXISTS scan_locks (
		account_id TEXT NOT NULL PRIMARY KEY,
		job_id TEXT NOT NULL,
		acquired_at TEXT NOT NULL
	);
`

const findingsSchema = `
	CREATE TABLE IF NOT EXISTS orphan_resources (
		account_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		provider_resource_id TEXT NOT NULL,
		region TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		estimated_monthly_cost REAL NOT NULL DEFAULT 0,
		estimated_cumulative_cost REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		price_source TEXT NOT NULL DEFAULT '',
		confidence TEXT NOT NULL,
		scenario TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		resource_metadata JSON,
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		status_changed_at TEXT NOT NULL,
		missed_scans INTEGER NOT NULL DEFAULT 0,
		last_scan_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (account_id, resource_type, provider_resource_id)
	);
`

var bootQueries = []string{
	accountsSchema,
	ruleOverridesSchema,
	scanJobsSchema,
	scanLocksSchema,
	findingsSchema,
}

// The conflict branch never writes status, status_changed_at or first_seen_at.
const upsertFindingQuery = `
INSERT INTO orphan_resources (
  account_id, resource_type, provider_resource_id, region, name,
  estimated_monthly_cost, estimated_cumulative_cost, currency, price_source,
  confidence, scenario, reason, resource_metadata,
  first_seen_at, last_seen_at, status, status_changed_at, missed_scans, last_scan_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, 0, ?)
ON CONFLICT (account_id, resource_type, provider_resource_id) DO UPDATE SET
  region = excluded.region,
  name = excluded.name,
  estimated_monthly_cost = excluded.estimated_monthly_cost,
  estimated_cumulative_cost = excluded.estimated_cumulative_cost,
  currency = excluded.currency,
  price_source = excluded.price_source,
  confidence = excluded.confidence,
  scenario = excluded.scenario,
  reason = excluded.reason,
  resource_metadata = excluded.resource_metadata,
  last_seen_at = excluded.last_seen_at,
  missed_scans = 0,
  last_scan_id = excluded.last_scan_id`

const findingExistsQuery = `
SELECT COUNT(1) FROM orphan_resources
WHERE account_id = ? AND resource_type = ? AND provider_resource_id = ?`

const listFindingsQuery = `
SELECT account_id, resource_type, provider_resource_id, region, name,
  estimated_monthly_cost, estimated_cumulative_cost, currency, price_source,
  confidence, scenario, reason, resource_metadata,
  first_seen_at, last_seen_at, status, status_changed_at, missed_scans, last_scan_id
FROM orphan_resources
WHERE account_id = ?
ORDER BY resource_type, provider_resource_id`

const findingKeyWhere = ` WHERE account_id = ? AND resource_type = ? AND provider_resource_id = ?`

const acquireLockQuery = `
INSERT INTO scan_locks (account_id, job_id, acquired_at) VALUES (?, ?, ?)
ON CONFLICT (account_id) DO NOTHING`

const lockHolderQuery = `SELECT job_id FROM scan_locks WHERE account_id = ?`

const saveJobQuery = `
INSERT INTO scan_jobs (id, account_id, status, job, created_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET status = excluded.status, job = excluded.job`
