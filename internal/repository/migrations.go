package repository

import (
	"context"

	"github.com/rs/zerolog/log"
)

// migrations holds the schema statements in application order. Each entry is
// idempotent so Migrate can run at every process start.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "users",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				role VARCHAR(10) NOT NULL DEFAULT 'user',
				admin_pin_hash TEXT,
				xp BIGINT NOT NULL DEFAULT 0,
				level INT NOT NULL DEFAULT 0,
				total_score BIGINT NOT NULL DEFAULT 0,
				last_subject VARCHAR(100),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		`,
	},
	{
		name: "subjects",
		sql: `
			CREATE TABLE IF NOT EXISTS subjects (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(100) NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				price BIGINT NOT NULL DEFAULT 0,
				is_free BOOLEAN NOT NULL DEFAULT FALSE,
				track VARCHAR(50) NOT NULL DEFAULT '',
				category VARCHAR(50) NOT NULL DEFAULT ''
			);
		`,
	},
	{
		name: "enrollments",
		sql: `
			CREATE TABLE IF NOT EXISTS enrollments (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				subject_id BIGINT NOT NULL REFERENCES subjects(id),
				amount BIGINT NOT NULL DEFAULT 0,
				amount_pieces BIGINT NOT NULL DEFAULT 0,
				paid BOOLEAN NOT NULL DEFAULT FALSE,
				payment_method VARCHAR(20) NOT NULL,
				payment_status VARCHAR(10) NOT NULL DEFAULT 'pending',
				unlocked_via_reward BOOLEAN NOT NULL DEFAULT FALSE,
				start_date TIMESTAMPTZ,
				expiry_date TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (user_id, subject_id)
			);
			CREATE INDEX IF NOT EXISTS idx_enrollments_user ON enrollments(user_id);
		`,
	},
	{
		name: "payments",
		sql: `
			CREATE TABLE IF NOT EXISTS payments (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				subject_id BIGINT REFERENCES subjects(id),
				amount BIGINT NOT NULL DEFAULT 0,
				method VARCHAR(20) NOT NULL,
				reference TEXT,
				status VARCHAR(10) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_payments_reference ON payments(reference);
			CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id);

			CREATE TABLE IF NOT EXISTS pending_payments (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				subject_id BIGINT NOT NULL REFERENCES subjects(id),
				amount BIGINT NOT NULL DEFAULT 0,
				payment_method VARCHAR(20) NOT NULL,
				reference TEXT,
				status VARCHAR(10) NOT NULL DEFAULT 'pending',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_pending_payments_status ON pending_payments(status);

			CREATE TABLE IF NOT EXISTS payment_audit (
				id BIGSERIAL PRIMARY KEY,
				pending_id BIGINT NOT NULL,
				admin_user_id BIGINT,
				action VARCHAR(10) NOT NULL,
				notes TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "offline_codes",
		sql: `
			CREATE TABLE IF NOT EXISTS offline_codes (
				id BIGSERIAL PRIMARY KEY,
				code VARCHAR(32) NOT NULL UNIQUE,
				subject_id BIGINT REFERENCES subjects(id),
				amount BIGINT NOT NULL DEFAULT 0,
				redeemed BOOLEAN NOT NULL DEFAULT FALSE,
				redeemed_by BIGINT,
				redeemed_at TIMESTAMPTZ
			);
		`,
	},
	{
		name: "pieces",
		sql: `
			CREATE TABLE IF NOT EXISTS user_pieces (
				user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				pieces BIGINT NOT NULL DEFAULT 0 CHECK (pieces >= 0),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "engagement",
		sql: `
			CREATE TABLE IF NOT EXISTS daily_engagement (
				user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				streak INT NOT NULL DEFAULT 0,
				last_login_date DATE,
				last_confirmed_date DATE,
				quiz_count_today INT NOT NULL DEFAULT 0,
				quiz_count_date DATE,
				monthly_awarded BOOLEAN NOT NULL DEFAULT FALSE,
				ninety_awarded BOOLEAN NOT NULL DEFAULT FALSE
			);

			CREATE TABLE IF NOT EXISTS engagement_history (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				date DATE NOT NULL,
				pieces_awarded INT NOT NULL DEFAULT 0,
				UNIQUE (user_id, date)
			);

			CREATE TABLE IF NOT EXISTS free_unlocks (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				claimed BOOLEAN NOT NULL DEFAULT FALSE,
				claimed_subject_id BIGINT REFERENCES subjects(id),
				granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "scores",
		sql: `
			CREATE TABLE IF NOT EXISTS score_events (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				username VARCHAR(255) NOT NULL,
				subject VARCHAR(100) NOT NULL,
				points BIGINT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_score_events_user ON score_events(user_id);
			CREATE INDEX IF NOT EXISTS idx_score_events_subject ON score_events(subject);

			CREATE TABLE IF NOT EXISTS daily_scores (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				username VARCHAR(255) NOT NULL,
				subject VARCHAR(100) NOT NULL DEFAULT '',
				points BIGINT NOT NULL,
				date DATE NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_daily_scores_date ON daily_scores(date);

			CREATE TABLE IF NOT EXISTS weekly_scores (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				username VARCHAR(255) NOT NULL,
				subject VARCHAR(100) NOT NULL DEFAULT '',
				points BIGINT NOT NULL,
				week VARCHAR(8) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_weekly_scores_week ON weekly_scores(week);

			CREATE TABLE IF NOT EXISTS monthly_scores (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				username VARCHAR(255) NOT NULL,
				subject VARCHAR(100) NOT NULL DEFAULT '',
				points BIGINT NOT NULL,
				month VARCHAR(7) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_monthly_scores_month ON monthly_scores(month);
		`,
	},
	{
		name: "achievements",
		sql: `
			CREATE TABLE IF NOT EXISTS achievements (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				badge VARCHAR(100) NOT NULL,
				awarded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "notifications",
		sql: `
			CREATE TABLE IF NOT EXISTS notifications (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				title VARCHAR(255) NOT NULL,
				body TEXT NOT NULL,
				data JSONB,
				read BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
		`,
	},
	{
		name: "seed_subjects",
		sql: `
			INSERT INTO subjects (name, description, price, is_free, track, category) VALUES
				('Agriculture', 'Agricultural Science', 0, TRUE, 'OLevel', 'JAMB'),
				('Biology', 'Biology', 0, TRUE, 'OLevel', 'JAMB'),
				('Chemistry', 'Chemistry', 3000, FALSE, 'OLevel', 'JAMB'),
				('English', 'English', 0, TRUE, 'OLevel', 'JAMB'),
				('Maths', 'Maths', 3000, FALSE, 'OLevel', 'JAMB'),
				('Physics', 'Physics', 3000, FALSE, 'OLevel', 'JAMB')
			ON CONFLICT (name) DO NOTHING;
		`,
	},
}

// Migrate applies the database schema. It is safe to call on every start.
func Migrate(ctx context.Context, db DBTX) error {
	for _, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return err
		}
		log.Debug().Str("migration", m.name).Msg("migration applied")
	}
	log.Info().Int("count", len(migrations)).Msg("database schema up to date")
	return nil
}
