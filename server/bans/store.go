// Package bans persists banned client addresses in SQLite.
package bans

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS bans (
	ip         TEXT PRIMARY KEY,
	username   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`

var ErrInvalidIP = errors.New("invalid ip address")

// Ban is one banned address.
type Ban struct {
	IP        string
	Username  string
	CreatedAt time.Time
}

// Store wraps the ban database. Writes are serialized.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the ban database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ban database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ban database %s: %w", path, err)
	}
	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logger.Warn().Err(err).Msg("enable WAL mode failed")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ban table: %w", err)
	}

	logger.Info().Str("path", path).Msg("ban database opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// normalize returns the canonical text form of ip.
func normalize(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String(), nil
	}
	return parsed.String(), nil
}

// Add bans ip. username records who was using it, if known.
func (s *Store) Add(ip, username string) error {
	key, err := normalize(ip)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO bans (ip, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(ip) DO UPDATE SET username = excluded.username`,
		key, username, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("ban %s: %w", key, err)
	}
	s.logger.Info().Str("ip", key).Str("username", username).Msg("address banned")
	return nil
}

// Remove lifts the ban on ip and reports whether it was banned.
func (s *Store) Remove(ip string) (bool, error) {
	key, err := normalize(ip)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM bans WHERE ip = ?`, key)
	if err != nil {
		return false, fmt.Errorf("unban %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Clear removes every ban.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM bans`); err != nil {
		return fmt.Errorf("clear bans: %w", err)
	}
	return nil
}

// Contains reports whether ip is banned. Unparseable addresses are never banned.
func (s *Store) Contains(ip string) (bool, error) {
	key, err := normalize(ip)
	if err != nil {
		return false, nil
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM bans WHERE ip = ?`, key).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup ban %s: %w", key, err)
	}
	return n > 0, nil
}

// List returns every ban, oldest first.
func (s *Store) List() ([]Ban, error) {
	rows, err := s.db.Query(`SELECT ip, username, created_at FROM bans ORDER BY created_at, ip`)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var (
			b       Ban
			created int64
		)
		if err := rows.Scan(&b.IP, &b.Username, &created); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		b.CreatedAt = time.Unix(created, 0)
		bans = append(bans, b)
	}
	return bans, rows.Err()
}
