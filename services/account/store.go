package account

import (
	"context"
	"strings"
	"time"

	"habitcoin/pkg/errutil"
	"habitcoin/pkg/repository"
	"habitcoin/services/capguard"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("account",
	fx.Provide(
		NewStore,
		func(s *Store) capguard.AccountReader { return s },
	),
)

type Store struct {
	node     *snowflake.Node
	accounts repository.Repository[Account]
}

func NewStore(db *gorm.DB, node *snowflake.Node) *Store {
	return &Store{
		node:     node,
		accounts: repository.ProvideStore[Account](db),
	}
}

// Create registers an account. A zero createdAt means now; backfilled
// accounts carry their original sign-up time. familyID may be empty for
// accounts outside any family.
func (s *Store) Create(ctx context.Context, displayName, familyID string, createdAt time.Time) (*Account, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, errutil.ValidationFailed("display name is required", nil, errutil.Field("display_name", "required"))
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	a := &Account{
		ID:          s.node.Generate().String(),
		DisplayName: displayName,
		FamilyID:    strings.TrimSpace(familyID),
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		zap.L().Error("failed to create account", zap.Error(err))
		return nil, err
	}
	return a, nil
}

func (s *Store) Get(ctx context.Context, userID string) (*Account, error) {
	a, err := s.accounts.FindOne(ctx, &Account{ID: userID})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errutil.NotFound("account not found", nil, errutil.Field("user_id", userID))
	}
	return a, nil
}

func (s *Store) GetAccountCreatedAt(ctx context.Context, userID string) (time.Time, error) {
	a, err := s.Get(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return a.CreatedAt, nil
}

// SameFamily reports whether both accounts belong to one family. Accounts
// without a family share nothing.
func (s *Store) SameFamily(ctx context.Context, userID, otherID string) (bool, error) {
	a, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	b, err := s.Get(ctx, otherID)
	if err != nil {
		return false, err
	}
	return a.FamilyID != "" && a.FamilyID == b.FamilyID, nil
}
