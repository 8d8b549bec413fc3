package dbgw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	cleared    []string
	lastMsg    string
	lastAt     time.Time
	setErrored []string
}

func (f *fakeRecorder) ClearError(ctx context.Context, connectionID string) error {
	f.cleared = append(f.cleared, connectionID)
	return nil
}

func (f *fakeRecorder) SetError(ctx context.Context, connectionID, message string, at time.Time) error {
	f.setErrored = append(f.setErrored, connectionID)
	f.lastMsg = message
	f.lastAt = at
	return nil
}

func TestUserPoolGetOrCreateRecordsFailureOnUnparseableURI(t *testing.T) {
	u := NewUserPool()
	rec := &fakeRecorder{}

	_, err := u.GetOrCreate(context.Background(), "not-a-postgres-uri", "conn-1", rec)
	require.Error(t, err)
	require.Len(t, rec.setErrored, 1)
	require.Equal(t, "conn-1", rec.setErrored[0])
	require.Empty(t, rec.cleared)
}

func TestUserPoolGetOrCreateToleratesNilRecorder(t *testing.T) {
	u := NewUserPool()
	_, err := u.GetOrCreate(context.Background(), "not-a-postgres-uri", "conn-1", nil)
	require.Error(t, err)
}
