package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vipgate/internal/subscription"
)

// MemoryRepository хранит подписки в памяти. Используется в тестах.
type MemoryRepository struct {
	mu     sync.RWMutex
	subs   []*subscription.Subscription
	byID   map[string]*subscription.Subscription
	events map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*subscription.Subscription),
		events: make(map[string]string),
	}
}

// clone: наружу отдаём копии, чтобы вызывающий не мог менять хранилище в обход мьютекса
func clone(s *subscription.Subscription) *subscription.Subscription {
	c := *s
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, spec subscription.CreateSpec) (*subscription.Subscription, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if spec.TonTxHash != nil {
		for _, s := range r.subs {
			if s.TonTxHash != nil && *s.TonTxHash == *spec.TonTxHash {
				return nil, subscription.ErrTxHashUsed
			}
		}
	}

	sub := &subscription.Subscription{
		ID:                   uuid.NewString(),
		UserID:               spec.UserID,
		ChannelID:            spec.ChannelID,
		PlanID:               spec.PlanID,
		PlanName:             spec.PlanName,
		StartAt:              spec.StartAt,
		EndAt:                spec.EndAt,
		Active:               true,
		StripeCustomerID:     spec.StripeCustomerID,
		StripeSubscriptionID: spec.StripeSubscriptionID,
		TonTxHash:            spec.TonTxHash,
		CreatedAt:            spec.StartAt,
		UpdatedAt:            spec.StartAt,
	}
	r.subs = append(r.subs, sub)
	r.byID[sub.ID] = sub

	return clone(sub), nil
}

func (r *MemoryRepository) Extend(ctx context.Context, userID, planID string, d time.Duration, now time.Time) (*subscription.Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *subscription.Subscription
	for _, s := range r.subs {
		if s.UserID != userID || s.PlanID != planID {
			continue
		}
		if target == nil || s.EndAt.After(target.EndAt) {
			target = s
		}
	}
	if target == nil {
		return nil, subscription.ErrNotFound
	}

	wasActive := target.Active
	target.EndAt = subscription.ExtendedEnd(target.EndAt, now, d)
	target.Active = true
	target.Kicked = false
	target.UpdatedAt = now

	return &subscription.Extension{Subscription: clone(target), Reactivated: !wasActive}, nil
}

func (r *MemoryRepository) FindActiveDue(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*subscription.Subscription
	for _, s := range r.subs {
		if s.IsDue(now) {
			due = append(due, clone(s))
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].EndAt.Before(due[j].EndAt) })
	return due, nil
}

func (r *MemoryRepository) FindByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*subscription.Subscription
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].UserID == userID {
			out = append(out, clone(r.subs[i]))
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListAll(ctx context.Context) ([]*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*subscription.Subscription, 0, len(r.subs))
	for i := len(r.subs) - 1; i >= 0; i-- {
		out = append(out, clone(r.subs[i]))
	}
	return out, nil
}

func (r *MemoryRepository) FindByTonTxHash(ctx context.Context, hash string) (*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subs {
		if s.TonTxHash != nil && *s.TonTxHash == hash {
			return clone(s), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) MarkInactive(ctx context.Context, id string, endAtSeen, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return false, subscription.ErrNotFound
	}
	if !s.Active || !s.EndAt.Equal(endAtSeen) || s.EndAt.After(now) {
		return false, nil
	}
	s.Active = false
	s.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepository) MarkKicked(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return subscription.ErrNotFound
	}
	s.Kicked = true
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) DeactivateForChannel(ctx context.Context, userID, channelID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.subs {
		if s.UserID != userID || s.Channel() != channelID {
			continue
		}
		if !s.Active && s.Kicked {
			continue
		}
		s.Active = false
		s.Kicked = true
		if s.EndAt.After(now) {
			s.EndAt = now
		}
		s.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *MemoryRepository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[eventID]; exists {
		return false, nil
	}
	r.events[eventID] = eventType
	return true, nil
}

func (r *MemoryRepository) UnmarkEvent(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.events, eventID)
	return nil
}
