package habit

import (
	"context"
	"errors"
	"strings"
	"time"

	"habitcoin/pkg/errutil"
	"habitcoin/pkg/locker"
	"habitcoin/pkg/rediskey"
	"habitcoin/services/capguard"
	"habitcoin/services/policy"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type QuotaChecker interface {
	CheckHabitQuota(ctx context.Context, userID string, creating, activating bool) (capguard.Decision, error)
}

type Service struct {
	store  *Store
	quota  QuotaChecker
	locker locker.Locker
	policy policy.Policy
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	Store  *Store
	Quota  QuotaChecker
	Locker locker.Locker
	Policy policy.Policy
}

// WithClock returns a copy of s that reads today from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:  p.Store,
		quota:  p.Quota,
		locker: p.Locker,
		policy: p.Policy,
		now:    time.Now,
	}
}

// CreateHabit enforces the habit quotas before writing. Quota checks and the
// insert are serialized per owner so parallel requests cannot overshoot.
func (s *Service) CreateHabit(ctx context.Context, ownerID, name string, active bool) (*Habit, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return nil, errutil.ValidationFailed("owner is required", nil, errutil.Field("owner_id", "required"))
	}
	if name == "" {
		return nil, errutil.ValidationFailed("habit name is required", nil, errutil.Field("name", "required"))
	}

	release, err := s.locker.Acquire(ctx, rediskey.BuildHabitQuotaLockKey(ownerID))
	if err != nil {
		return nil, errutil.Unavailable("habit quota busy, retry", err)
	}
	defer release()

	if err := s.checkQuota(ctx, ownerID, true, active); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	h := &Habit{OwnerID: ownerID, Name: name, Active: active, CreatedAt: now, UpdatedAt: now}
	if err := s.store.createHabit(ctx, h); err != nil {
		zap.L().Error("failed to create habit", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}
	return h, nil
}

func (s *Service) SetActive(ctx context.Context, ownerID, habitID string, active bool) (*Habit, error) {
	release, err := s.locker.Acquire(ctx, rediskey.BuildHabitQuotaLockKey(ownerID))
	if err != nil {
		return nil, errutil.Unavailable("habit quota busy, retry", err)
	}
	defer release()

	h, err := s.owned(ctx, ownerID, habitID)
	if err != nil {
		return nil, err
	}
	if h.Active == active {
		return h, nil
	}

	if active {
		if err := s.checkQuota(ctx, ownerID, false, true); err != nil {
			return nil, err
		}
	}

	if err := s.store.setActive(ctx, habitID, active); err != nil {
		return nil, err
	}
	h.Active = active
	return h, nil
}

// RecordCheck marks one calendar day of a habit. Only today and the grace
// days before it in the policy timezone can be written.
func (s *Service) RecordCheck(ctx context.Context, ownerID, habitID, date string, completed bool) (*HabitCheck, error) {
	day, err := time.Parse(policy.DateLayout, date)
	if err != nil {
		return nil, errutil.ValidationFailed("date must be YYYY-MM-DD", err, errutil.Field("date", date))
	}
	date = day.Format(policy.DateLayout)
	if first, last := s.policy.CheckInWindow(s.now()); date < first || date > last {
		return nil, errutil.ValidationFailed("date is outside the check-in window", nil,
			errutil.Field("date", date), errutil.Field("earliest", first), errutil.Field("latest", last))
	}

	h, err := s.owned(ctx, ownerID, habitID)
	if err != nil {
		return nil, err
	}
	if !h.Active {
		return nil, errutil.UnprocessableEntity("habit is inactive", nil)
	}

	c := &HabitCheck{HabitID: habitID, UserID: ownerID, Date: date, Completed: completed}
	if err := s.store.upsertCheck(ctx, c); err != nil {
		zap.L().Error("failed to record check", zap.String("habit_id", habitID), zap.String("date", date), zap.Error(err))
		return nil, err
	}
	return c, nil
}

func (s *Service) ListHabits(ctx context.Context, ownerID string) ([]*Habit, error) {
	return s.store.ListHabits(ctx, ownerID)
}

func (s *Service) owned(ctx context.Context, ownerID, habitID string) (*Habit, error) {
	h, err := s.store.GetHabit(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errutil.NotFound("habit not found", nil, errutil.Field("habit_id", habitID))
	}
	if h.OwnerID != ownerID {
		return nil, errutil.Forbidden("habit belongs to another user", nil)
	}
	return h, nil
}

func (s *Service) checkQuota(ctx context.Context, ownerID string, creating, activating bool) error {
	d, err := s.quota.CheckHabitQuota(ctx, ownerID, creating, activating)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return errutil.UnprocessableEntity(string(d.Reason), d.Err())
	}
	return nil
}

// DeniedReason extracts the quota denial carried by err, if any.
func DeniedReason(err error) (capguard.DenyReason, bool) {
	var denied *capguard.DeniedError
	if errors.As(err, &denied) {
		return denied.Decision.Reason, true
	}
	return "", false
}
