// Package sqlite is a Repository on database/sql with the pure Go modernc
// SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

type Store struct {
	db *sql.DB
}

// Open connects to dsn and creates the schema. SQLite allows a single writer,
// so the pool is pinned to one connection; this also keeps ":memory:"
// databases shared across calls.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range bootQueries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// PutAccount inserts or replaces an account.
func (s *Store) PutAccount(ctx context.Context, a resource.CloudAccount) error {
	regions, err := json.Marshal(a.Regions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO cloud_accounts (id, owner_id, provider, regions, last_scan_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, provider = excluded.provider, regions = excluded.regions`,
		a.ID, a.OwnerID, string(a.Provider), string(regions), formatTime(a.LastScanAt))
	if err != nil {
		return fmt.Errorf("put account %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (resource.CloudAccount, error) {
	var (
		a                 resource.CloudAccount
		provider, regions string
		lastScan          string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, provider, regions, last_scan_at FROM cloud_accounts WHERE id = ?`, accountID).
		Scan(&a.ID, &a.OwnerID, &provider, &regions, &lastScan)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("get account %s: %w", accountID, err)
	}
	a.Provider = resource.Provider(provider)
	if err := json.Unmarshal([]byte(regions), &a.Regions); err != nil {
		return a, fmt.Errorf("account %s regions: %w", accountID, err)
	}
	if a.LastScanAt, err = parseTime(lastScan); err != nil {
		return a, err
	}
	return a, nil
}

// PutRuleOverride stores r as YAML, the same shape as the rules file.
func (s *Store) PutRuleOverride(ctx context.Context, r config.DetectionRule) error {
	body, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO detection_rules (owner_id, resource_type, rule) VALUES (?, ?, ?)
ON CONFLICT (owner_id, resource_type) DO UPDATE SET rule = excluded.rule`,
		r.OwnerID, string(r.ResourceType), string(body))
	if err != nil {
		return fmt.Errorf("put rule %s/%s: %w", r.OwnerID, r.ResourceType, err)
	}
	return nil
}

func (s *Store) GetRuleOverrides(ctx context.Context, ownerID string, t resource.Type) (*config.DetectionRule, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT rule FROM detection_rules WHERE owner_id = ? AND resource_type = ?`, ownerID, string(t)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s/%s: %w", ownerID, t, err)
	}
	var r config.DetectionRule
	if err := yaml.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode rule %s/%s: %w", ownerID, t, err)
	}
	return &r, nil
}

func (s *Store) SaveScanJob(ctx context.Context, job *store.ScanJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, saveJobQuery,
		job.ID, job.AccountID, string(job.Status), string(body), formatTime(job.CreatedAt)); err != nil {
		return fmt.Errorf("save scan job %s: %w", job.ID, err)
	}
	if job.Status == store.JobCompleted {
		if _, err := s.db.ExecContext(ctx, `UPDATE cloud_accounts SET last_scan_at = ? WHERE id = ?`,
			formatTime(job.CompletedAt), job.AccountID); err != nil {
			return fmt.Errorf("touch account %s: %w", job.AccountID, err)
		}
	}
	return nil
}

func (s *Store) GetScanJob(ctx context.Context, jobID string) (*store.ScanJob, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT job FROM scan_jobs WHERE id = ?`, jobID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan job %s: %w", jobID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job %s: %w", jobID, err)
	}
	var job store.ScanJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode scan job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *Store) AcquireAccountScanLock(ctx context.Context, accountID, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, acquireLockQuery, accountID, jobID, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", accountID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return true, nil
	}
	var holder string
	if err := s.db.QueryRowContext(ctx, lockHolderQuery, accountID).Scan(&holder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock holder %s: %w", accountID, err)
	}
	return holder == jobID, nil
}

func (s *Store) ReleaseAccountScanLock(ctx context.Context, accountID, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scan_locks WHERE account_id = ? AND job_id = ?`, accountID, jobID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", accountID, err)
	}
	return nil
}

func (s *Store) UpsertFinding(ctx context.Context, f store.Finding) (bool, error) {
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, findingExistsQuery,
		f.AccountID, string(f.ResourceType), f.ProviderResourceID).Scan(&n); err != nil {
		return false, fmt.Errorf("upsert finding %s: %w", f.Key(), err)
	}
	seen := formatTime(f.LastSeenAt)
	if _, err := tx.ExecContext(ctx, upsertFindingQuery,
		f.AccountID, string(f.ResourceType), f.ProviderResourceID, f.Region, f.Name,
		f.MonthlyCost, f.CumulativeCost, f.Currency, f.PriceSource,
		f.Confidence, f.Scenario, f.Reason, string(meta),
		seen, seen, seen, f.LastScanID,
	); err != nil {
		return false, fmt.Errorf("upsert finding %s: %w", f.Key(), err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Store) ListFindings(ctx context.Context, accountID string) ([]store.Finding, error) {
	rows, err := s.db.QueryContext(ctx, listFindingsQuery, accountID)
	if err != nil {
		return nil, fmt.Errorf("list findings %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []store.Finding
	for rows.Next() {
		var (
			f                             store.Finding
			typ, status                   string
			meta                          sql.NullString
			firstSeen, lastSeen, statusAt string
		)
		if err := rows.Scan(&f.AccountID, &typ, &f.ProviderResourceID, &f.Region, &f.Name,
			&f.MonthlyCost, &f.CumulativeCost, &f.Currency, &f.PriceSource,
			&f.Confidence, &f.Scenario, &f.Reason, &meta,
			&firstSeen, &lastSeen, &status, &statusAt, &f.MissedScans, &f.LastScanID); err != nil {
			return nil, err
		}
		f.ResourceType = resource.Type(typ)
		f.Status = store.Status(status)
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &f.Metadata); err != nil {
				return nil, fmt.Errorf("finding %s metadata: %w", f.Key(), err)
			}
		}
		if f.FirstSeenAt, err = parseTime(firstSeen); err != nil {
			return nil, err
		}
		if f.LastSeenAt, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		if f.StatusChangedAt, err = parseTime(statusAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) execKey(ctx context.Context, op, set string, key resource.FindingKey, args ...interface{}) error {
	args = append(args, key.AccountID, string(key.Type), key.ProviderID)
	res, err := s.db.ExecContext(ctx, `UPDATE orphan_resources SET `+set+findingKeyWhere, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finding %s: %w", key, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SetMissedScans(ctx context.Context, key resource.FindingKey, missed int) error {
	return s.execKey(ctx, "set missed scans", "missed_scans = ?", key, missed)
}

func (s *Store) SetFindingStatus(ctx context.Context, key resource.FindingKey, status store.Status, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.execKey(ctx, "set status", "status = ?, status_changed_at = ?", key, string(status), formatTime(at))
}

func (s *Store) DeleteFinding(ctx context.Context, key resource.FindingKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orphan_resources`+findingKeyWhere,
		key.AccountID, string(key.Type), key.ProviderID)
	if err != nil {
		return fmt.Errorf("delete finding %s: %w", key, err)
	}
	return nil
}

var _ store.Repository = (*Store)(nil)
