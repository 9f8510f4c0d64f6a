package app

import (
	"context"
	"errors"

	"issueboard/pkg/domain"
	"issueboard/pkg/store"
)

// VoteResult is the outcome of a toggle vote with the target's fresh counts.
type VoteResult struct {
	Action   domain.VoteAction `json:"action"`
	Polarity domain.Polarity   `json:"polarity"`
	Counts   domain.VoteCounts `json:"counts"`
}

// errLostRace marks a ledger write that a concurrent writer pre-empted.
var errLostRace = errors.New("vote row changed concurrently")

const voteAttempts = 2

// CastVote toggles voterID's vote on a target: a first vote creates a row,
// repeating the same polarity removes it and the opposite polarity switches
// it. A write pre-empted by a concurrent vote is retried once.
func (a *App) CastVote(ctx context.Context, voterID, targetID string, kind domain.TargetKind, polarity domain.Polarity) (VoteResult, error) {
	pol, ok := domain.ParsePolarity(string(polarity))
	if !ok {
		return VoteResult{}, ErrInvalidPolarity
	}
	k, err := parseKind(kind)
	if err != nil {
		return VoteResult{}, err
	}
	if targetID == "" {
		return VoteResult{}, ErrMissingFields.withMessage("targetId is required")
	}
	exists, err := a.store.TargetExists(ctx, k, targetID)
	if err != nil {
		return VoteResult{}, internal("check vote target", err)
	}
	if !exists {
		return VoteResult{}, ErrTargetNotFound
	}

	for attempt := 1; attempt <= voteAttempts; attempt++ {
		action, err := a.applyVote(ctx, voterID, targetID, k, pol)
		if errors.Is(err, errLostRace) {
			a.log(ctx).Debug("vote race lost", "target_id", targetID, "kind", k, "attempt", attempt)
			continue
		}
		if err != nil {
			return VoteResult{}, err
		}
		counts, err := a.CountsFor(ctx, targetID, k)
		if err != nil {
			return VoteResult{}, err
		}
		return VoteResult{Action: action, Polarity: pol, Counts: counts}, nil
	}
	return VoteResult{}, ErrVoteConflict
}

func (a *App) applyVote(ctx context.Context, voterID, targetID string, kind domain.TargetKind, pol domain.Polarity) (domain.VoteAction, error) {
	existing, found, err := a.store.FindVote(ctx, voterID, targetID, kind)
	if err != nil {
		return "", internal("find vote", err)
	}
	if !found {
		now := a.now()
		err := a.store.InsertVote(ctx, domain.Vote{
			ID:         a.newID(),
			VoterID:    voterID,
			TargetID:   targetID,
			TargetKind: kind,
			Polarity:   pol,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if errors.Is(err, store.ErrDuplicate) {
			return "", errLostRace
		}
		if err != nil {
			return "", internal("insert vote", err)
		}
		return domain.VoteCreated, nil
	}

	if existing.Polarity == pol {
		ok, err := a.store.DeleteVote(ctx, existing.ID, pol)
		if err != nil {
			return "", internal("delete vote", err)
		}
		if !ok {
			return "", errLostRace
		}
		return domain.VoteRemoved, nil
	}

	ok, err := a.store.SwitchVote(ctx, existing.ID, existing.Polarity, pol)
	if err != nil {
		return "", internal("switch vote", err)
	}
	if !ok {
		return "", errLostRace
	}
	return domain.VoteSwitched, nil
}

// UserVote returns voterID's current vote on a target, or nil.
func (a *App) UserVote(ctx context.Context, voterID, targetID string, kind domain.TargetKind) (*domain.Vote, error) {
	k, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	v, found, err := a.store.FindVote(ctx, voterID, targetID, k)
	if err != nil {
		return nil, internal("find vote", err)
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}

// CountsFor folds the ledger rows of one target. A target without votes,
// or one that does not exist, has zero counts.
func (a *App) CountsFor(ctx context.Context, targetID string, kind domain.TargetKind) (domain.VoteCounts, error) {
	k, err := parseKind(kind)
	if err != nil {
		return domain.VoteCounts{}, err
	}
	counts, err := a.countsByTarget(ctx, k, targetID)
	if err != nil {
		return domain.VoteCounts{}, err
	}
	return counts[targetID], nil
}

func (a *App) countsByTarget(ctx context.Context, kind domain.TargetKind, targetIDs ...string) (map[string]domain.VoteCounts, error) {
	votes, err := a.store.ListVotes(ctx, kind, targetIDs...)
	if err != nil {
		return nil, internal("list votes", err)
	}
	return Tally(votes), nil
}

// Tally folds vote rows into per-target counts.
func Tally(votes []domain.Vote) map[string]domain.VoteCounts {
	out := make(map[string]domain.VoteCounts)
	for _, v := range votes {
		c := out[v.TargetID]
		switch v.Polarity {
		case domain.PolarityUp:
			c.Up++
		case domain.PolarityDown:
			c.Down++
		}
		c.Net = c.Up - c.Down
		out[v.TargetID] = c
	}
	return out
}

func parseKind(kind domain.TargetKind) (domain.TargetKind, error) {
	k, ok := domain.ParseTargetKind(string(kind))
	if !ok {
		return "", ErrInvalidTargetKind
	}
	return k, nil
}
