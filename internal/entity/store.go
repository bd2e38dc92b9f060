package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nudge/internal/job"
)

var ErrNotFound = errors.New("entity: not found")

// Snapshot is the current state of a tracked entity as the worker sees it.
// Fields that do not apply to the family are zero.
type Snapshot struct {
	ID     string
	FundID string
	Family job.Family
	State  State
	Email  string
	Name   string

	MeetingAt *time.Time // prospects
	DueDate   *time.Time // capital call line items
	AmountDue string     // capital call line items
	ExpiresAt *time.Time // team invites
	Role      string     // team invites
}

// Lookup reads entity state at dispatch time.
type Lookup interface {
	Get(ctx context.Context, f job.Family, id string) (Snapshot, error)
}

// Store reads the platform database through gorm.
type Store struct {
	DB *gorm.DB
}

var _ Lookup = (*Store)(nil)

func (s *Store) Get(ctx context.Context, f job.Family, id string) (Snapshot, error) {
	switch f {
	case job.FamilyProspect:
		return s.GetProspect(ctx, id)
	case job.FamilyInvestor:
		return s.GetInvestor(ctx, id)
	case job.FamilyCapitalCall:
		return s.GetCapitalCallItem(ctx, id)
	case job.FamilyTeamInvite:
		return s.GetTeamInvite(ctx, id)
	}
	return Snapshot{}, fmt.Errorf("entity: unknown family %q", f)
}

func (s *Store) GetProspect(ctx context.Context, id string) (Snapshot, error) {
	var r prospectRow
	if err := s.first(ctx, &r, id); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:        r.ID,
		FundID:    r.FundID,
		Family:    job.FamilyProspect,
		State:     State(r.Status),
		Email:     r.Email,
		Name:      r.Name,
		MeetingAt: r.MeetingAt,
	}, nil
}

func (s *Store) GetInvestor(ctx context.Context, id string) (Snapshot, error) {
	var r investorRow
	if err := s.first(ctx, &r, id); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:     r.ID,
		FundID: r.FundID,
		Family: job.FamilyInvestor,
		State:  State(r.Status),
		Email:  r.Email,
		Name:   r.Name,
	}, nil
}

func (s *Store) GetCapitalCallItem(ctx context.Context, id string) (Snapshot, error) {
	var r capitalCallItemRow
	if err := s.first(ctx, &r, id); err != nil {
		return Snapshot{}, err
	}
	due := r.DueDate
	return Snapshot{
		ID:        r.ID,
		FundID:    r.FundID,
		Family:    job.FamilyCapitalCall,
		State:     State(r.Status),
		Email:     r.InvestorEmail,
		Name:      r.InvestorName,
		DueDate:   &due,
		AmountDue: r.AmountDue,
	}, nil
}

func (s *Store) GetTeamInvite(ctx context.Context, id string) (Snapshot, error) {
	var r teamInviteRow
	if err := s.first(ctx, &r, id); err != nil {
		return Snapshot{}, err
	}
	exp := r.ExpiresAt
	return Snapshot{
		ID:        r.ID,
		FundID:    r.FundID,
		Family:    job.FamilyTeamInvite,
		State:     State(r.Status),
		Email:     r.Email,
		ExpiresAt: &exp,
		Role:      r.Role,
	}, nil
}

func (s *Store) first(ctx context.Context, dst any, id string) error {
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
