package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the ledger tables if they don't exist.
func InitSchema(db *sql.DB) error {
	log.Info("Initializing ecotrack database schema...")

	profilesTableSQL := `
	CREATE TABLE IF NOT EXISTS profiles(
		id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		avatar VARCHAR(255) NOT NULL DEFAULT '',
		eco_coins INT NOT NULL DEFAULT 0,
		total_mass_kg DECIMAL(12,3) NOT NULL DEFAULT 0,
		day_streak INT NOT NULL DEFAULT 0,
		level INT NOT NULL DEFAULT 1,
		total_reports INT NOT NULL DEFAULT 0,
		last_report_at TIMESTAMP NULL DEFAULT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX coins_index (eco_coins)
	)`

	if _, err := db.Exec(profilesTableSQL); err != nil {
		return fmt.Errorf("failed to create profiles table: %w", err)
	}
	log.Info("Profiles table created/verified")

	reportsTableSQL := `
	CREATE TABLE IF NOT EXISTS reports(
		id VARCHAR(64) NOT NULL,
		kind ENUM('waste', 'dirty_area') NOT NULL,
		owner_id VARCHAR(64) NOT NULL,
		category ENUM('dry_waste', 'e_waste', 'reusable', 'hazardous') NULL,
		ai_category VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		version BIGINT NOT NULL DEFAULT 0,
		coins_earned INT NOT NULL DEFAULT 0,
		mass_kg DECIMAL(12,3) NOT NULL DEFAULT 0,
		latitude FLOAT NOT NULL DEFAULT 0,
		longitude FLOAT NOT NULL DEFAULT 0,
		s2_cell BIGINT UNSIGNED NOT NULL DEFAULT 0,
		image_ref VARCHAR(255) NOT NULL DEFAULT '',
		note VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX owner_index (owner_id),
		INDEX status_index (kind, status),
		INDEX s2_cell_index (s2_cell),
		FOREIGN KEY (owner_id) REFERENCES profiles(id) ON DELETE CASCADE
	)`

	if _, err := db.Exec(reportsTableSQL); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}
	log.Info("Reports table created/verified")

	agentsTableSQL := `
	CREATE TABLE IF NOT EXISTS agents(
		id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		credential_hash VARCHAR(256) NOT NULL,
		active BOOL NOT NULL DEFAULT true,
		completed_count INT NOT NULL DEFAULT 0,
		points INT NOT NULL DEFAULT 0,
		last_assigned_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:01',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE INDEX phone_unique (phone),
		INDEX active_index (active, last_assigned_at)
	)`

	if _, err := db.Exec(agentsTableSQL); err != nil {
		return fmt.Errorf("failed to create agents table: %w", err)
	}
	log.Info("Agents table created/verified")

	// is_active is 1 while the task is assigned or in_progress and NULL
	// once terminal. The unique index on (report_id, is_active) is what
	// enforces "at most one active task per report": NULLs never collide.
	tasksTableSQL := `
	CREATE TABLE IF NOT EXISTS tasks(
		id VARCHAR(64) NOT NULL,
		agent_id VARCHAR(64) NOT NULL,
		report_id VARCHAR(64) NOT NULL,
		report_kind ENUM('waste', 'dirty_area') NOT NULL,
		status ENUM('assigned', 'in_progress', 'completed', 'cancelled') NOT NULL DEFAULT 'assigned',
		is_active TINYINT NULL DEFAULT 1,
		assigned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		started_at TIMESTAMP NULL DEFAULT NULL,
		completed_at TIMESTAMP NULL DEFAULT NULL,
		PRIMARY KEY (id),
		UNIQUE INDEX active_report_unique (report_id, is_active),
		INDEX agent_index (agent_id),
		FOREIGN KEY (agent_id) REFERENCES agents(id),
		FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
	)`

	if _, err := db.Exec(tasksTableSQL); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	log.Info("Tasks table created/verified")

	// One row per rewarded report. The primary key makes the profile
	// side of a reward replay a no-op.
	rewardGrantsTableSQL := `
	CREATE TABLE IF NOT EXISTS reward_grants(
		report_id VARCHAR(64) NOT NULL,
		profile_id VARCHAR(64) NOT NULL,
		coins INT NOT NULL,
		granted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (report_id),
		INDEX profile_index (profile_id),
		FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
	)`

	if _, err := db.Exec(rewardGrantsTableSQL); err != nil {
		return fmt.Errorf("failed to create reward_grants table: %w", err)
	}
	log.Info("Reward_grants table created/verified")

	log.Info("Database schema initialization completed")
	return nil
}
