package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/flowd/internal/event"
)

func testKey() Key {
	return Key{AppName: "courses", UserID: "u-1", SessionID: "s-1"}
}

func TestKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{name: "valid", key: testKey(), wantErr: false},
		{name: "missing app", key: Key{UserID: "u", SessionID: "s"}, wantErr: true},
		{name: "missing user", key: Key{AppName: "a", SessionID: "s"}, wantErr: true},
		{name: "missing session", key: Key{AppName: "a", UserID: "u"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInMemoryService_CreateAndGet(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, testKey())
	require.NoError(t, err)
	assert.Empty(t, created.Events)
	assert.NotNil(t, created.State)

	got, err := svc.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, created.Key, got.Key)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestInMemoryService_CreateDuplicate(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	_, err := svc.Create(ctx, testKey())
	require.NoError(t, err)

	_, err = svc.Create(ctx, testKey())
	assert.ErrorIs(t, err, ErrExists)
}

func TestInMemoryService_GetMissing(t *testing.T) {
	svc := NewInMemoryService()

	_, err := svc.Get(context.Background(), testKey())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryService_GetOrCreate(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)

	second, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestInMemoryService_AppendEvent_Order(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	_, err := svc.Create(ctx, testKey())
	require.NoError(t, err)

	a := event.NewText("inv-1", "generator", event.RoleModel, "one")
	b := event.NewText("inv-1", "judge", event.RoleModel, "two")

	require.NoError(t, svc.AppendEvent(ctx, testKey(), a))
	require.NoError(t, svc.AppendEvent(ctx, testKey(), b))

	sess, err := svc.Get(ctx, testKey())
	require.NoError(t, err)
	require.Len(t, sess.Events, 2)
	assert.Same(t, a, sess.Events[0])
	assert.Same(t, b, sess.Events[1])
}

func TestInMemoryService_AppendEvent_MissingSession(t *testing.T) {
	svc := NewInMemoryService()

	err := svc.AppendEvent(context.Background(), testKey(), event.New("inv-1", "generator"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryService_MergeState_LastWriteWins(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	_, err := svc.Create(ctx, testKey())
	require.NoError(t, err)

	require.NoError(t, svc.MergeState(ctx, testKey(), map[string]any{
		"judge_output": map[string]any{"status": "fail"},
		"draft":        "v1",
	}))
	require.NoError(t, svc.MergeState(ctx, testKey(), map[string]any{
		"judge_output": map[string]any{"status": "pass"},
	}))

	v, ok, err := svc.StateValue(ctx, testKey(), "judge_output")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"status": "pass"}, v)

	draft, ok, err := svc.StateValue(ctx, testKey(), "draft")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", draft)
}

func TestInMemoryService_GetReturnsSnapshot(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	_, err := svc.Create(ctx, testKey())
	require.NoError(t, err)

	snap, err := svc.Get(ctx, testKey())
	require.NoError(t, err)

	// Writes after the read are not visible through the snapshot.
	require.NoError(t, svc.AppendEvent(ctx, testKey(), event.New("inv-1", "generator")))
	require.NoError(t, svc.MergeState(ctx, testKey(), map[string]any{"draft": "v1"}))

	assert.Empty(t, snap.Events)
	_, ok := snap.State["draft"]
	assert.False(t, ok)

	fresh, err := svc.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Len(t, fresh.Events, 1)
}

func TestInMemoryService_ConcurrentAppendAndGet(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	_, err := svc.Create(ctx, testKey())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = svc.AppendEvent(ctx, testKey(), event.New("inv-1", "generator"))
			_ = svc.MergeState(ctx, testKey(), map[string]any{"i": i})
		}
	}()

	for {
		sess, err := svc.Get(ctx, testKey())
		require.NoError(t, err)
		_ = len(sess.Events)
		_ = sess.State["i"]
		_ = sess.UpdatedAt
		select {
		case <-done:
			sess, err := svc.Get(ctx, testKey())
			require.NoError(t, err)
			assert.Len(t, sess.Events, 200)
			return
		default:
		}
	}
}

func TestInMemoryService_StateValue_Absent(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	_, err := svc.Create(ctx, testKey())
	require.NoError(t, err)

	_, ok, err := svc.StateValue(ctx, testKey(), "judge_output")
	require.NoError(t, err)
	assert.False(t, ok)
}
