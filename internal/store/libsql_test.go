package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedSession(t *testing.T, s *LibSQLStore, flowID string) *Session {
	t.Helper()
	sess := &Session{
		ID:      uuid.New().String(),
		FlowID:  flowID,
		Options: SessionOptions{Autoplay: true, AutoAdvance: true, Speed: 1},
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe), "want *schema.FlowError, got %T", err)
	assert.Equal(t, code, fe.Code)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	all, err := loadMigrations(migrationFS)
	require.NoError(t, err)
	var version, count int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version), COUNT(*) FROM schema_migrations`).Scan(&version, &count))
	assert.Equal(t, all[len(all)-1].version, version)
	assert.Equal(t, len(all), count)
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{
		ID:      uuid.New().String(),
		FlowID:  "oauth2-pkce",
		Options: SessionOptions{AutoAdvance: true, Speed: 1.5, Virtual: true},
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "oauth2-pkce", got.FlowID)
	assert.Equal(t, SessionActive, got.Status)
	assert.Equal(t, sess.Options, got.Options)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.ClosedAt)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestCreateSession_Duplicate(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s, "password-login")
	err := s.CreateSession(context.Background(), &Session{ID: sess.ID, FlowID: "x"})
	requireCode(t, err, schema.ErrCodeStore)
}

func TestCloseSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, "password-login")

	require.NoError(t, s.CloseSession(ctx, sess.ID))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionClosed, got.Status)
	require.NotNil(t, got.ClosedAt)

	first := *got.ClosedAt
	require.NoError(t, s.CloseSession(ctx, sess.ID))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*got.ClosedAt))

	requireCode(t, s.CloseSession(ctx, "missing"), schema.ErrCodeNotFound)
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, flow := range []string{"jwt-refresh", "password-login", "jwt-refresh"} {
		require.NoError(t, s.CreateSession(ctx, &Session{
			ID:        uuid.New().String(),
			FlowID:    flow,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, !all[0].CreatedAt.Before(all[1].CreatedAt), "newest first")

	jwt, err := s.ListSessions(ctx, SessionFilter{FlowID: "jwt-refresh"})
	require.NoError(t, err)
	assert.Len(t, jwt, 2)

	require.NoError(t, s.CloseSession(ctx, jwt[0].ID))
	active, err := s.ListSessions(ctx, SessionFilter{Status: SessionActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	limited, err := s.ListSessions(ctx, SessionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteSession_RemovesEvents(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	sess := seedSession(t, s, "session-logout")

	require.NoError(t, el.AppendEvent(ctx, &Event{SessionID: sess.ID, FlowID: sess.FlowID, Type: schema.EventPlay}))
	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	events, err := s.GetEvents(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	requireCode(t, s.DeleteSession(ctx, sess.ID), schema.ErrCodeNotFound)
}

func TestGetEventsByType(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	a := seedSession(t, s, "password-login")
	b := seedSession(t, s, "registration")

	now := time.Now().UTC()
	for i, ev := range []*Event{
		{SessionID: a.ID, FlowID: a.FlowID, Type: schema.EventStepChange, StepID: "lookup-user", StepIndex: 1},
		{SessionID: a.ID, FlowID: a.FlowID, Type: schema.EventPause},
		{SessionID: b.ID, FlowID: b.FlowID, Type: schema.EventStepChange, StepID: "hash-password", StepIndex: 1},
		{SessionID: a.ID, FlowID: a.FlowID, Type: schema.EventStepChange, StepID: "user-record", StepIndex: 2},
	} {
		ev.Timestamp = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, el.AppendEvent(ctx, ev))
	}

	all, err := s.GetEventsByType(ctx, schema.EventStepChange, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "user-record", all[0].StepID, "newest first")

	onlyA, err := s.GetEventsByType(ctx, schema.EventStepChange, EventFilter{SessionID: a.ID})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	byFlow, err := s.GetEventsByType(ctx, schema.EventStepChange, EventFilter{FlowID: "registration"})
	require.NoError(t, err)
	require.Len(t, byFlow, 1)
	assert.Equal(t, "hash-password", byFlow[0].StepID)

	byStep, err := s.GetEventsByType(ctx, schema.EventStepChange, EventFilter{StepID: "lookup-user"})
	require.NoError(t, err)
	assert.Len(t, byStep, 1)

	since := now.Add(2 * time.Second)
	recent, err := s.GetEventsByType(ctx, schema.EventStepChange, EventFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := s.GetEventsByType(ctx, schema.EventStepChange, EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
