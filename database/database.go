package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ecotrack/config"
	"ecotrack/models"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// Database is the ledger store. All status writes go through the
// compare-and-swap path; nothing mutates a report status directly.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the MySQL connection pool.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB exposes the raw handle for schema initialization.
func (d *Database) DB() *sql.DB {
	return d.db
}

// ---- Profiles ----

// UpsertProfile creates or updates citizen profile metadata. Coin and
// level fields are untouched here.
func (d *Database) UpsertProfile(ctx context.Context, req *models.UpdateProfileRequest) error {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, avatar) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name = ?, avatar = ?`,
		req.ID, req.Name, req.Avatar, req.Name, req.Avatar)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", req.ID, err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get upsert result for %s: %w", req.ID, err)
	}
	return nil
}

// GetProfile fetches one profile by id.
func (d *Database) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	p := &models.Profile{}
	var mass string
	var lastReport sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, avatar, eco_coins, total_mass_kg, day_streak,
		       level, total_reports, last_report_at, created_at, updated_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Avatar, &p.EcoCoins, &mass, &p.DayStreak,
			&p.Level, &p.TotalReports, &lastReport, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	if p.TotalMassKg, err = decimal.NewFromString(mass); err != nil {
		return nil, fmt.Errorf("bad total_mass_kg for profile %s: %w", id, err)
	}
	if lastReport.Valid {
		p.LastReportAt = &lastReport.Time
	}
	return p, nil
}

// DeleteProfile removes a citizen and cascades to owned reports, their
// tasks and reward grants (FK ON DELETE CASCADE).
func (d *Database) DeleteProfile(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get delete result for %s: %w", id, err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// TouchDayStreak advances the submission streak: same day keeps it,
// a report on the following day extends it, anything else resets to 1.
func (d *Database) TouchDayStreak(ctx context.Context, profileID string, now time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE profiles SET
			day_streak = CASE
				WHEN last_report_at IS NULL THEN 1
				WHEN DATE(last_report_at) = DATE(?) THEN day_streak
				WHEN DATE(last_report_at) = DATE(DATE_SUB(?, INTERVAL 1 DAY)) THEN day_streak + 1
				ELSE 1
			END,
			last_report_at = ?
		WHERE id = ?`,
		now, now, now, profileID)
	if err != nil {
		return fmt.Errorf("failed to touch day streak for %s: %w", profileID, err)
	}
	return nil
}

// ---- Reports ----

// CreateReport inserts a freshly submitted report.
func (d *Database) CreateReport(ctx context.Context, r *models.Report) error {
	var category interface{}
	if r.Category != "" {
		category = string(r.Category)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reports
			(id, kind, owner_id, category, ai_category, status, mass_kg,
			 latitude, longitude, s2_cell, image_ref, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.OwnerID, category, r.AICategory, r.Status,
		r.MassKg.String(), r.Latitude, r.Longitude, r.S2Cell, r.ImageRef, r.Note)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", r.ID, err)
	}
	return nil
}

func (d *Database) scanReport(row *sql.Row) (*models.Report, error) {
	r := &models.Report{}
	var category sql.NullString
	var mass string
	err := row.Scan(&r.ID, &r.Kind, &r.OwnerID, &category, &r.AICategory,
		&r.Status, &r.Version, &r.CoinsEarned, &mass, &r.Latitude,
		&r.Longitude, &r.S2Cell, &r.ImageRef, &r.Note, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	if category.Valid {
		r.Category = models.WasteCategory(category.String)
	}
	if r.MassKg, err = decimal.NewFromString(mass); err != nil {
		return nil, fmt.Errorf("bad mass_kg for report %s: %w", r.ID, err)
	}
	return r, nil
}

const reportColumns = `id, kind, owner_id, category, ai_category, status,
	version, coins_earned, mass_kg, latitude, longitude, s2_cell,
	image_ref, note, created_at, updated_at`

// GetReport fetches one report by id.
func (d *Database) GetReport(ctx context.Context, id string) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	return d.scanReport(row)
}

// CompareAndSwapStatus commits a status transition only if the caller
// still holds the current version. A stale version yields ErrConflict;
// the caller must re-read and re-validate before retrying.
func (d *Database) CompareAndSwapStatus(ctx context.Context, id string, expectedVersion int64, newStatus string) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE reports
		SET status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		newStatus, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to swap status for report %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get swap result for report %s: %w", id, err)
	}
	if rows == 1 {
		return nil
	}

	// Zero rows: either the report is gone or somebody else won.
	var exists int
	err = d.db.QueryRowContext(ctx, `SELECT 1 FROM reports WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check report %s after swap miss: %w", id, err)
	}
	return models.ErrConflict
}

// ApplyRewardOnce sets coins_earned from 0 to coins. Replays find a
// non-zero value and report applied=false without touching the row.
func (d *Database) ApplyRewardOnce(ctx context.Context, id string, coins int) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE reports SET coins_earned = ?
		WHERE id = ? AND coins_earned = 0`,
		coins, id)
	if err != nil {
		return false, fmt.Errorf("failed to apply reward for report %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get reward result for report %s: %w", id, err)
	}
	return rows == 1, nil
}

// GrantProfileReward applies the profile side of a reward exactly once
// per report. The reward_grants primary key is the idempotency guard:
// a replayed grant inserts nothing and leaves the profile untouched.
func (d *Database) GrantProfileReward(ctx context.Context, reportID, profileID string, coins int, mass decimal.Decimal) (bool, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("failed to begin reward transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO reward_grants (report_id, profile_id, coins)
		VALUES (?, ?, ?)`,
		reportID, profileID, coins)
	if err != nil {
		return false, fmt.Errorf("failed to insert reward grant for %s: %w", reportID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get grant result for %s: %w", reportID, err)
	}
	if rows == 0 {
		// Already granted for this report.
		return false, tx.Commit()
	}

	// Level uses GREATEST so it never decreases.
	_, err = tx.ExecContext(ctx, `
		UPDATE profiles SET
			eco_coins = eco_coins + ?,
			total_mass_kg = total_mass_kg + ?,
			total_reports = total_reports + 1,
			level = GREATEST(level, FLOOR(total_reports / 10) + 1)
		WHERE id = ?`,
		coins, mass.String(), profileID)
	if err != nil {
		return false, fmt.Errorf("failed to update profile %s for reward: %w", profileID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit reward for %s: %w", reportID, err)
	}
	return true, nil
}

// ListUnsettledRewards returns reports whose coin apply committed but
// whose profile credit has no grant ledger row yet. These are the
// casualties of a profile-side outage; the reward sweep re-drives them.
func (d *Database) ListUnsettledRewards(ctx context.Context) ([]models.Report, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports
		 LEFT JOIN reward_grants ON reward_grants.report_id = reports.id
		 WHERE coins_earned > 0 AND reward_grants.report_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled rewards: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// ListReportsByOwner returns a citizen's reports, newest first.
func (d *Database) ListReportsByOwner(ctx context.Context, ownerID string) ([]models.Report, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports for %s: %w", ownerID, err)
	}
	defer rows.Close()
	return collectReports(rows)
}

func collectReports(rows *sql.Rows) ([]models.Report, error) {
	reports := []models.Report{}
	for rows.Next() {
		r := models.Report{}
		var category sql.NullString
		var mass string
		var err error
		if err = rows.Scan(&r.ID, &r.Kind, &r.OwnerID, &category, &r.AICategory,
			&r.Status, &r.Version, &r.CoinsEarned, &mass, &r.Latitude,
			&r.Longitude, &r.S2Cell, &r.ImageRef, &r.Note, &r.CreatedAt, &r.UpdatedAt); err != nil {
			log.Errorf("Cannot scan a report row: %v", err)
			continue
		}
		if category.Valid {
			r.Category = models.WasteCategory(category.String)
		}
		if r.MassKg, err = decimal.NewFromString(mass); err != nil {
			log.Errorf("Bad mass_kg for report %s: %v", r.ID, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// ---- Agents ----

// RegisterAgent enrolls a field worker.
func (d *Database) RegisterAgent(ctx context.Context, a *models.PickupAgent) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, phone, credential_hash, active)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Phone, a.CredentialHash, a.Active)
	if err != nil {
		return fmt.Errorf("failed to register agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgent fetches one agent by id.
func (d *Database) GetAgent(ctx context.Context, id string) (*models.PickupAgent, error) {
	a := &models.PickupAgent{}
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, phone, credential_hash, active, completed_count,
		       points, last_assigned_at, created_at
		FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Phone, &a.CredentialHash, &a.Active,
			&a.CompletedCount, &a.Points, &a.LastAssignedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return a, nil
}

// SetAgentActive flips the roster flag.
func (d *Database) SetAgentActive(ctx context.Context, id string, active bool) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE agents SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to set agent %s active=%v: %w", id, active, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get agent update result for %s: %w", id, err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// PickAgent returns the least-recently-assigned active agent, the
// round-robin policy that keeps dispatch deterministic and fair.
func (d *Database) PickAgent(ctx context.Context) (*models.PickupAgent, error) {
	a := &models.PickupAgent{}
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, phone, credential_hash, active, completed_count,
		       points, last_assigned_at, created_at
		FROM agents
		WHERE active = true
		ORDER BY last_assigned_at ASC, id ASC
		LIMIT 1`).
		Scan(&a.ID, &a.Name, &a.Phone, &a.CredentialHash, &a.Active,
			&a.CompletedCount, &a.Points, &a.LastAssignedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNoAgentAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick an agent: %w", err)
	}
	return a, nil
}

// BumpAgentCompletion records a finished collection on the agent.
func (d *Database) BumpAgentCompletion(ctx context.Context, agentID string, points int) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE agents
		SET completed_count = completed_count + 1, points = points + ?
		WHERE id = ?`,
		points, agentID)
	if err != nil {
		return fmt.Errorf("failed to bump completion for agent %s: %w", agentID, err)
	}
	return nil
}

// ---- Tasks ----

// CreateTask inserts an assigned task and stamps the agent's
// last_assigned_at so the next pick rotates to somebody else. The
// active-report unique index rejects a second active task for the
// same report.
func (d *Database) CreateTask(ctx context.Context, t *models.CollectionTask) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin task transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, agent_id, report_id, report_kind, status, is_active)
		VALUES (?, ?, ?, ?, 'assigned', 1)`,
		t.ID, t.AgentID, t.ReportID, t.ReportKind)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", t.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE agents SET last_assigned_at = CURRENT_TIMESTAMP WHERE id = ?`,
		t.AgentID)
	if err != nil {
		return fmt.Errorf("failed to stamp agent %s assignment: %w", t.AgentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task %s: %w", t.ID, err)
	}
	return nil
}

func scanTask(scan func(dest ...interface{}) error) (*models.CollectionTask, error) {
	t := &models.CollectionTask{}
	var started, completed sql.NullTime
	err := scan(&t.ID, &t.AgentID, &t.ReportID, &t.ReportKind, &t.Status,
		&t.AssignedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return t, nil
}

const taskColumns = `id, agent_id, report_id, report_kind, status,
	assigned_at, started_at, completed_at`

// GetTask fetches one task by id.
func (d *Database) GetTask(ctx context.Context, id string) (*models.CollectionTask, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// GetActiveTaskByReport returns the single active task of a report, or
// ErrNotFound when none is open.
func (d *Database) GetActiveTaskByReport(ctx context.Context, reportID string) (*models.CollectionTask, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE report_id = ? AND is_active = 1`,
		reportID)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active task for report %s: %w", reportID, err)
	}
	return t, nil
}

// UpdateTaskStatus moves a task from one status to another. The WHERE
// clause on the old status makes concurrent updates race to a single
// winner; the loser gets ErrConflict.
func (d *Database) UpdateTaskStatus(ctx context.Context, taskID string, from, to models.TaskStatus) error {
	var stamp string
	switch to {
	case models.TaskInProgress:
		stamp = ", started_at = CURRENT_TIMESTAMP"
	case models.TaskCompleted, models.TaskCancelled:
		stamp = ", completed_at = CURRENT_TIMESTAMP"
	}
	var active interface{}
	if to.Active() {
		active = 1
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, is_active = ?`+stamp+`
		WHERE id = ? AND status = ?`,
		to, active, taskID, from)
	if err != nil {
		return fmt.Errorf("failed to update task %s to %s: %w", taskID, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get task update result for %s: %w", taskID, err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = d.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&exists)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check task %s after update miss: %w", taskID, err)
	}
	return models.ErrConflict
}

// ListTasksByAgent returns an agent's task queue, newest first.
func (d *Database) ListTasksByAgent(ctx context.Context, agentID string) ([]models.CollectionTask, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE agent_id = ? ORDER BY assigned_at DESC`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	tasks := []models.CollectionTask{}
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			log.Errorf("Cannot scan a task row: %v", err)
			continue
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ---- Leaderboard ----

// TopProfiles reads the ranked projection: eco_coins descending, ties
// broken by earlier join date.
func (d *Database) TopProfiles(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, avatar, eco_coins, level, total_reports
		FROM profiles
		ORDER BY eco_coins DESC, created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top profiles: %w", err)
	}
	defer rows.Close()

	entries := []models.LeaderboardEntry{}
	place := 1
	for rows.Next() {
		e := models.LeaderboardEntry{}
		if err := rows.Scan(&e.ProfileID, &e.Name, &e.Avatar, &e.EcoCoins,
			&e.Level, &e.TotalReports); err != nil {
			log.Errorf("Cannot scan a leaderboard row: %v", err)
			continue
		}
		e.Rank = place
		place++
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
