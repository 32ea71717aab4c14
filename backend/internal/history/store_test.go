package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "epsilon-voice/backend/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case **string:
			if v == nil {
				*d = nil
			} else {
				s := v.(string)
				*d = &s
			}
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMigrate(t *testing.T) {
	var gotSQL string
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}

	store := NewStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS conversations") {
		t.Error("Schema DDL not executed")
	}
}

func TestCreateConversation_Idempotent(t *testing.T) {
	var gotSQL string
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}

	store := NewStore(db)
	if err := store.CreateConversation(context.Background(), "conv-1", "user-1", "title"); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (id) DO NOTHING") {
		t.Error("Conversation insert must be idempotent")
	}
}

func TestAddMessage(t *testing.T) {
	now := time.Now()
	var touched bool
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*int64)) = 7
				*(dest[1].(*time.Time)) = now
				return nil
			}}
		},
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "UPDATE conversations SET updated_at") {
				touched = true
			}
			return pgconn.CommandTag{}, nil
		},
	}

	store := NewStore(db)
	msg, err := store.AddMessage(context.Background(), "conv-1", "user", "hello")
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if msg.ID != 7 || msg.Role != "user" || msg.Content != "hello" {
		t.Errorf("Unexpected message: %+v", msg)
	}
	if !touched {
		t.Error("AddMessage must touch the conversation's updated_at")
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := NewStore(&mockDB{})

	_, err := store.GetConversation(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error for missing conversation")
	}
	if _, ok := err.(*apperrors.ErrConversationNotFound); !ok {
		t.Errorf("Expected ErrConversationNotFound, got %T", err)
	}
}

func TestGetUserConversations(t *testing.T) {
	now := time.Now()
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "ORDER BY updated_at DESC") {
				t.Error("Conversations must be ordered most recent first")
			}
			return &mockRows{data: [][]any{
				{"conv-2", "user-1", "second", now, now},
				{"conv-1", "user-1", nil, now, now},
			}}, nil
		},
	}

	store := NewStore(db)
	conversations, err := store.GetUserConversations(context.Background(), "user-1", 20)
	if err != nil {
		t.Fatalf("GetUserConversations failed: %v", err)
	}
	if len(conversations) != 2 {
		t.Fatalf("Expected 2 conversations, got %d", len(conversations))
	}
	if conversations[0].Title != "second" {
		t.Errorf("Unexpected title: %q", conversations[0].Title)
	}
	if conversations[1].Title != "" {
		t.Errorf("NULL title must map to empty string, got %q", conversations[1].Title)
	}
}

func TestGetMessages(t *testing.T) {
	now := time.Now()
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{int64(1), "conv-1", "user", "hi", now},
				{int64(2), "conv-1", "assistant", "hello", now},
			}}, nil
		},
	}

	store := NewStore(db)
	messages, err := store.GetMessages(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[1].Role != "assistant" {
		t.Errorf("Unexpected role: %q", messages[1].Role)
	}
}

func TestDeleteConversation_NotFound(t *testing.T) {
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
	}

	store := NewStore(db)
	err := store.DeleteConversation(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error for missing conversation")
	}
	if _, ok := err.(*apperrors.ErrConversationNotFound); !ok {
		t.Errorf("Expected ErrConversationNotFound, got %T", err)
	}
}
