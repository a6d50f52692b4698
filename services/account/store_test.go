package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitcoin/pkg/errutil"
	"habitcoin/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestCreateAndReadAccount(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewTestDB(t, &Account{}), testutil.NewTestNode(t))

	signedUp := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	a, err := store.Create(ctx, "  Rina ", " family-1 ", signedUp)
	require.NoError(t, err)
	require.Equal(t, "Rina", a.DisplayName)
	require.Equal(t, "family-1", a.FamilyID)

	createdAt, err := store.GetAccountCreatedAt(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, createdAt.Equal(signedUp))
}

func TestAccountValidationAndNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewTestDB(t, &Account{}), testutil.NewTestNode(t))

	_, err := store.Create(ctx, " ", "", time.Time{})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = store.GetAccountCreatedAt(ctx, "ghost")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestSameFamily(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.NewTestDB(t, &Account{}), testutil.NewTestNode(t))

	parent, err := store.Create(ctx, "Parent", "family-1", time.Time{})
	require.NoError(t, err)
	child, err := store.Create(ctx, "Child", "family-1", time.Time{})
	require.NoError(t, err)
	neighbour, err := store.Create(ctx, "Neighbour", "family-2", time.Time{})
	require.NoError(t, err)
	loner, err := store.Create(ctx, "Loner", "", time.Time{})
	require.NoError(t, err)
	other, err := store.Create(ctx, "Other", "", time.Time{})
	require.NoError(t, err)

	cases := []struct {
		a, b string
		same bool
	}{
		{parent.ID, child.ID, true},
		{parent.ID, neighbour.ID, false},
		{loner.ID, other.ID, false},
	}
	for _, tc := range cases {
		same, err := store.SameFamily(ctx, tc.a, tc.b)
		require.NoError(t, err)
		require.Equal(t, tc.same, same)
	}

	_, err = store.SameFamily(ctx, parent.ID, "ghost")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}
