package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codecollab-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	database, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tmpDir)
	})

	return database
}

func testRoom(id string) *Room {
	now := time.Now().UTC()
	return &Room{
		ID:          id,
		Code:        "",
		Language:    "javascript",
		DefaultRole: "editor",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUserOperations(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	user := &User{
		ID:           "user-1",
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: "hash",
		Color:        "#3b82f6",
		CreatedAt:    time.Now().UTC(),
	}
	if err := database.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	got, err := database.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("Failed to get user by email: %v", err)
	}
	if got == nil || got.ID != "user-1" {
		t.Fatalf("Expected user-1, got %+v", got)
	}

	got, err = database.GetUserByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to get user by id: %v", err)
	}
	if got == nil || got.Name != "Ada" {
		t.Fatalf("Expected Ada, got %+v", got)
	}

	// Duplicate email must violate the unique constraint
	dup := &User{ID: "user-2", Name: "Eve", Email: "ada@example.com", PasswordHash: "h", Color: "#fff", CreatedAt: time.Now().UTC()}
	if err := database.CreateUser(ctx, dup); err == nil {
		t.Error("Duplicate email should fail")
	}

	// Unknown lookups return nil, nil
	got, err = database.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Unknown email should return nil")
	}
}

func TestRoomOperations(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateRoom(ctx, testRoom("room-1")); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	got, err := database.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	if got == nil || got.Language != "javascript" || got.DefaultRole != "editor" {
		t.Fatalf("Unexpected room: %+v", got)
	}

	if err := database.UpdateRoomState(ctx, "room-1", "print(1)", "python"); err != nil {
		t.Fatalf("Failed to update room state: %v", err)
	}

	got, err = database.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	if got.Code != "print(1)" || got.Language != "python" {
		t.Errorf("Expected updated state, got %q/%q", got.Code, got.Language)
	}

	got, err = database.GetRoom(ctx, "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Unknown room should return nil")
	}
}

func TestSaveVersionSkipsDuplicates(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateRoom(ctx, testRoom("room-1")); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	saved, err := database.SaveVersion(ctx, "room-1", "print(1)", "python")
	if err != nil {
		t.Fatalf("Failed to save version: %v", err)
	}
	if !saved {
		t.Error("First save should persist")
	}

	// Identical back-to-back save is suppressed
	saved, err = database.SaveVersion(ctx, "room-1", "print(1)", "python")
	if err != nil {
		t.Fatalf("Failed to save version: %v", err)
	}
	if saved {
		t.Error("Duplicate save should be skipped")
	}

	// Changed language alone is a new version
	saved, err = database.SaveVersion(ctx, "room-1", "print(1)", "javascript")
	if err != nil {
		t.Fatalf("Failed to save version: %v", err)
	}
	if !saved {
		t.Error("Language change should persist")
	}

	versions, err := database.ListVersions(ctx, "room-1", 50, 0)
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(versions))
	}
	// Newest first
	if versions[0].Language != "javascript" || versions[1].Language != "python" {
		t.Errorf("Versions out of order: %+v", versions)
	}
}

func TestPruneVersions(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateRoom(ctx, testRoom("room-1")); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	for i := 0; i < 10; i++ {
		code := "v" + string(rune('0'+i))
		if _, err := database.SaveVersion(ctx, "room-1", code, "go"); err != nil {
			t.Fatalf("Failed to save version: %v", err)
		}
	}

	count, err := database.CountVersions(ctx, "room-1")
	if err != nil {
		t.Fatalf("Failed to count versions: %v", err)
	}
	if count != 10 {
		t.Fatalf("Expected 10 versions, got %d", count)
	}

	if err := database.PruneVersions(ctx, "room-1", 3); err != nil {
		t.Fatalf("Failed to prune versions: %v", err)
	}

	versions, err := database.ListVersions(ctx, "room-1", 50, 0)
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("Expected 3 versions after prune, got %d", len(versions))
	}
	if versions[0].Code != "v9" {
		t.Errorf("Prune should keep the newest versions, got %q", versions[0].Code)
	}
}

func TestChatMessages(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateRoom(ctx, testRoom("room-1")); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	for i, text := range []string{"first", "second", "third"} {
		msg := &ChatMessage{
			RoomID:    "room-1",
			UserID:    "user-1",
			Username:  "Ada",
			Color:     "#3b82f6",
			Message:   text,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := database.AppendChatMessage(ctx, msg); err != nil {
			t.Fatalf("Failed to append message: %v", err)
		}
		if msg.ID == 0 {
			t.Error("Append should backfill the message id")
		}
	}

	messages, err := database.ListChatMessages(ctx, "room-1", 500)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	// Oldest first, for replay
	if messages[0].Message != "first" || messages[2].Message != "third" {
		t.Errorf("Messages out of order: %+v", messages)
	}
}

func TestChatMessagesKeepNewest(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := database.CreateRoom(ctx, testRoom("room-1")); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	for i := 0; i < 5; i++ {
		msg := &ChatMessage{
			RoomID:    "room-1",
			UserID:    "user-1",
			Username:  "Ada",
			Color:     "#3b82f6",
			Message:   fmt.Sprintf("msg-%d", i),
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := database.AppendChatMessage(ctx, msg); err != nil {
			t.Fatalf("Failed to append message: %v", err)
		}
	}

	// Over the limit, the newest messages win; order stays chronological
	messages, err := database.ListChatMessages(ctx, "room-1", 3)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].Message != "msg-2" || messages[2].Message != "msg-4" {
		t.Errorf("Expected the newest messages oldest-first, got %+v", messages)
	}
}

func TestStats(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := database.CreateRoom(ctx, testRoom(id)); err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}

	stats, err := database.GetStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["room_count"].(int) != 3 {
		t.Errorf("Expected 3 rooms, got %v", stats["room_count"])
	}
}
