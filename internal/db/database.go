package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Color        string    `json:"color"`
	CreatedAt    time.Time `json:"created_at"`
}

type Room struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Language    string    `json:"language"`
	DefaultRole string    `json:"default_role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Version struct {
	ID        int       `json:"id"`
	RoomID    string    `json:"roomId"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatMessage struct {
	ID        int       `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		color TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'javascript',
		default_role TEXT NOT NULL DEFAULT 'editor',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		code TEXT NOT NULL,
		language TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_versions_room_created ON versions(room_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		color TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, id ASC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// User operations

func (d *Database) CreateUser(ctx context.Context, u *User) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Color, u.CreatedAt)
	return err
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, color, created_at
		FROM users WHERE email = ?
	`, email)
	return scanUser(row)
}

func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, color, created_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Color, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Room operations

func (d *Database) CreateRoom(ctx context.Context, r *Room) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO rooms (id, code, language, default_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Code, r.Language, r.DefaultRole, r.CreatedAt, r.UpdatedAt)
	return err
}

func (d *Database) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, code, language, default_role, created_at, updated_at
		FROM rooms WHERE id = ?
	`, id)

	var r Room
	err := row.Scan(&r.ID, &r.Code, &r.Language, &r.DefaultRole, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRoomState persists the room's current buffer and language.
func (d *Database) UpdateRoomState(ctx context.Context, id, code, language string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE rooms SET code = ?, language = ?, updated_at = ? WHERE id = ?
	`, code, language, time.Now().UTC(), id)
	return err
}

// Version operations

// SaveVersion appends a snapshot of the room buffer. Saving the same
// code+language as the latest version is a no-op so idle debounce fires
// don't grow the history.
func (d *Database) SaveVersion(ctx context.Context, roomID, code, language string) (bool, error) {
	latest, err := d.LatestVersion(ctx, roomID)
	if err != nil {
		return false, err
	}
	if latest != nil && latest.Code == code && latest.Language == language {
		return false, nil
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO versions (room_id, code, language, created_at)
		VALUES (?, ?, ?, ?)
	`, roomID, code, language, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Database) LatestVersion(ctx context.Context, roomID string) (*Version, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, room_id, code, language, created_at
		FROM versions WHERE room_id = ?
		ORDER BY id DESC LIMIT 1
	`, roomID)

	var v Version
	err := row.Scan(&v.ID, &v.RoomID, &v.Code, &v.Language, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns versions for a room, newest first.
func (d *Database) ListVersions(ctx context.Context, roomID string, limit, offset int) ([]Version, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, code, language, created_at
		FROM versions WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.RoomID, &v.Code, &v.Language, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ListRoomIDs returns every known room id.
func (d *Database) ListRoomIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id FROM rooms")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Database) CountVersions(ctx context.Context, roomID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions WHERE room_id = ?", roomID).Scan(&count)
	return count, err
}

// PruneVersions deletes a room's oldest versions, keeping the most
// recent keep entries.
func (d *Database) PruneVersions(ctx context.Context, roomID string, keep int) error {
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM versions
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM versions
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	return err
}

// Chat operations

func (d *Database) AppendChatMessage(ctx context.Context, m *ChatMessage) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO chat_messages (room_id, user_id, username, color, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.RoomID, m.UserID, m.Username, m.Color, m.Message, m.CreatedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = int(id)
	}
	return nil
}

// ListChatMessages returns a room's most recent messages in chronological
// order: the newest N are selected, then reversed for replay.
func (d *Database) ListChatMessages(ctx context.Context, roomID string, limit int) ([]ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, username, color, message, created_at
		FROM chat_messages WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Color, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]any, error) {
	stats := make(map[string]any)

	var roomCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var userCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
		return nil, err
	}
	stats["user_count"] = userCount

	var versionCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions").Scan(&versionCount); err != nil {
		return nil, err
	}
	stats["version_count"] = versionCount

	return stats, nil
}
