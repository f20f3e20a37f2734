// Package analytics records which sections visitors scroll through.
// Session ids are salted and hashed before storage; raw ids never touch disk.
package analytics

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/Zachkp/portfolio/internal/section"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db   *sql.DB
	salt string
	now  func() time.Time
}

// SectionView is one recorded transition into a section.
type SectionView struct {
	ID            int64     `json:"id"`
	HashedSession string    `json:"hashed_session"`
	Section       string    `json:"section"`
	Source        string    `json:"source"`
	EnteredAt     time.Time `json:"entered_at"`
}

type SectionCount struct {
	Section string `json:"section"`
	Views   int64  `json:"views"`
}

type Stats struct {
	TotalViews     int64          `json:"total_views"`
	UniqueSessions int64          `json:"unique_sessions"`
	TotalSessions  int64          `json:"total_sessions"`
	ViewsToday     int64          `json:"views_today"`
	ViewsThisWeek  int64          `json:"views_this_week"`
	BySection      []SectionCount `json:"by_section"`
	RecentViews    []SectionView  `json:"recent_views"`
}

// Open opens (creating if needed) the SQLite database at path. An empty
// salt is replaced by a random one, which makes hashes stable only for the
// life of the process.
func Open(path, salt string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc's sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if salt == "" {
		salt = randomHex(16)
	}
	return &Store{db: db, salt: salt, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending schema migration.
func (s *Store) Migrate() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, 0 if none.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// HashSession returns the stored form of a session id.
func (s *Store) HashSession(id string) string {
	h := sha256.Sum256([]byte(id + s.salt))
	return hex.EncodeToString(h[:])[:16]
}

// RecordSession notes that a navigation session was opened.
func (s *Store) RecordSession(ctx context.Context, sessionID, transport string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO nav_sessions (hashed_session, transport, opened_at)
		VALUES (?, ?, ?)
	`, s.HashSession(sessionID), transport, s.now().Unix())
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// RecordChange stores a transition of the active section.
func (s *Store) RecordChange(ctx context.Context, sessionID string, c section.Change) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO section_views (hashed_session, section, source, entered_at)
		VALUES (?, ?, ?, ?)
	`, s.HashSession(sessionID), c.To, string(c.Source), s.now().Unix())
	if err != nil {
		return fmt.Errorf("record section view: %w", err)
	}
	return nil
}

// Stats summarizes recorded views.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	week := now.Add(-7 * 24 * time.Hour)

	stats := &Stats{}
	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&stats.TotalViews, `SELECT COUNT(*) FROM section_views`, nil},
		{&stats.UniqueSessions, `SELECT COUNT(DISTINCT hashed_session) FROM section_views`, nil},
		{&stats.TotalSessions, `SELECT COUNT(*) FROM nav_sessions`, nil},
		{&stats.ViewsToday, `SELECT COUNT(*) FROM section_views WHERE entered_at >= ?`, []any{today.Unix()}},
		{&stats.ViewsThisWeek, `SELECT COUNT(*) FROM section_views WHERE entered_at >= ?`, []any{week.Unix()}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	var err error
	stats.BySection, err = s.sectionCounts(ctx)
	if err != nil {
		return nil, err
	}

	stats.RecentViews, err = s.RecentViews(ctx, 50)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// sectionCounts returns views per section, most viewed first.
func (s *Store) sectionCounts(ctx context.Context) ([]SectionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section, COUNT(*) AS views
		FROM section_views
		GROUP BY section
		ORDER BY views DESC, section ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []SectionCount
	for rows.Next() {
		var sc SectionCount
		if err := rows.Scan(&sc.Section, &sc.Views); err != nil {
			return nil, err
		}
		counts = append(counts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read section counts: %w", err)
	}
	return counts, nil
}

// RecentViews returns the latest views, newest first.
func (s *Store) RecentViews(ctx context.Context, limit int) ([]SectionView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hashed_session, section, source, entered_at
		FROM section_views
		ORDER BY entered_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []SectionView
	for rows.Next() {
		var v SectionView
		var at int64
		if err := rows.Scan(&v.ID, &v.HashedSession, &v.Section, &v.Source, &at); err != nil {
			return nil, err
		}
		v.EnteredAt = time.Unix(at, 0).UTC()
		views = append(views, v)
	}
	return views, rows.Err()
}

// Cleanup deletes views and sessions older than the retention window.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM section_views WHERE entered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup section views: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nav_sessions WHERE opened_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("Privacy cleanup: removed %d section views older than %s", n, retention)
	}
	return n, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal("Failed to generate random salt:", err)
	}
	return hex.EncodeToString(b)
}
