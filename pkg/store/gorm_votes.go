package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"issueboard/pkg/domain"
)

// FindVote returns the ledger row for (voter, target, kind), if any.
func (s *GormStore) FindVote(ctx context.Context, voterID, targetID string, kind domain.TargetKind) (domain.Vote, bool, error) {
	var model VoteModel
	err := s.db.WithContext(ctx).
		Where("voter_id = ? AND target_id = ? AND target_kind = ?", voterID, targetID, string(kind)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Vote{}, false, nil
		}
		return domain.Vote{}, false, err
	}
	return voteFromModel(model), true, nil
}

// InsertVote creates a ledger row; the unique index rejects a second row.
func (s *GormStore) InsertVote(ctx context.Context, v domain.Vote) error {
	model := voteToModel(v)
	return wrapCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// DeleteVote removes the row if it still carries polarity.
func (s *GormStore) DeleteVote(ctx context.Context, id string, polarity domain.Polarity) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND polarity = ?", id, string(polarity)).
		Delete(&VoteModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SwitchVote flips the row's polarity if it still carries from.
func (s *GormStore) SwitchVote(ctx context.Context, id string, from, to domain.Polarity) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&VoteModel{}).
		Where("id = ? AND polarity = ?", id, string(from)).
		Updates(map[string]any{
			"polarity":   string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListVotes returns all rows for the given targets of one kind.
func (s *GormStore) ListVotes(ctx context.Context, kind domain.TargetKind, targetIDs ...string) ([]domain.Vote, error) {
	if len(targetIDs) == 0 {
		return []domain.Vote{}, nil
	}
	var models []VoteModel
	if err := s.db.WithContext(ctx).
		Where("target_kind = ? AND target_id IN ?", string(kind), targetIDs).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Vote, 0, len(models))
	for _, m := range models {
		out = append(out, voteFromModel(m))
	}
	return out, nil
}

func voteToModel(v domain.Vote) VoteModel {
	return VoteModel{
		ID:         v.ID,
		VoterID:    v.VoterID,
		TargetID:   v.TargetID,
		TargetKind: string(v.TargetKind),
		Polarity:   string(v.Polarity),
		CreatedAt:  v.CreatedAt.UTC(),
		UpdatedAt:  v.UpdatedAt.UTC(),
	}
}

func voteFromModel(m VoteModel) domain.Vote {
	return domain.Vote{
		ID:         m.ID,
		VoterID:    m.VoterID,
		TargetID:   m.TargetID,
		TargetKind: domain.TargetKind(m.TargetKind),
		Polarity:   domain.Polarity(m.Polarity),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
