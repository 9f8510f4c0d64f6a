package app

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"issueboard/pkg/domain"
	"issueboard/pkg/store"
)

func (f *fixture) addProblem(t *testing.T, author domain.User) domain.ProblemView {
	t.Helper()
	p, err := f.app.CreateProblem(context.Background(), author, "Broken fan in room 204", "The ceiling fan does not turn on.", nil)
	if err != nil {
		t.Fatalf("create problem: %v", err)
	}
	return p
}

func TestCastVoteToggleCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "23bcs006@iiitdwd.ac.in")
	p := f.addProblem(t, u)

	steps := []struct {
		action domain.VoteAction
		up     int
	}{
		{domain.VoteCreated, 1},
		{domain.VoteRemoved, 0},
		{domain.VoteCreated, 1},
	}
	for i, step := range steps {
		res, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, domain.PolarityUp)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Action != step.action || res.Counts.Up != step.up || res.Counts.Down != 0 {
			t.Fatalf("step %d: unexpected result %+v", i, res)
		}
	}
}

func TestCastVoteSwitchesPolarity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "23bcs006@iiitdwd.ac.in")
	p := f.addProblem(t, u)

	if _, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, "UPVOTE"); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	res, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, "downvote")
	if err != nil {
		t.Fatalf("downvote: %v", err)
	}
	want := domain.VoteCounts{Up: 0, Down: 1, Net: -1}
	if res.Action != domain.VoteSwitched || res.Polarity != domain.PolarityDown || res.Counts != want {
		t.Fatalf("unexpected result %+v", res)
	}

	vote, err := f.app.UserVote(ctx, u.ID, p.ID, domain.TargetProblem)
	if err != nil || vote == nil || vote.Polarity != domain.PolarityDown {
		t.Fatalf("unexpected user vote %+v err=%v", vote, err)
	}
}

func TestCastVoteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "23bcs006@iiitdwd.ac.in")
	p := f.addProblem(t, u)

	_, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, "sideways")
	assertErr(t, err, ErrInvalidPolarity)
	_, err = f.app.CastVote(ctx, u.ID, p.ID, "poll", domain.PolarityUp)
	assertErr(t, err, ErrInvalidTargetKind)
	_, err = f.app.CastVote(ctx, u.ID, "missing", domain.TargetProblem, domain.PolarityUp)
	assertErr(t, err, ErrTargetNotFound)
	// a problem id is not a discussion
	_, err = f.app.CastVote(ctx, u.ID, p.ID, domain.TargetDiscussion, domain.PolarityUp)
	assertErr(t, err, ErrTargetNotFound)
}

func TestUserVoteAndCountsForUnknownTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vote, err := f.app.UserVote(ctx, "nobody", "missing", domain.TargetComment)
	if err != nil || vote != nil {
		t.Fatalf("expected no vote, got %+v err=%v", vote, err)
	}
	counts, err := f.app.CountsFor(ctx, "missing", domain.TargetDiscussion)
	if err != nil || counts != (domain.VoteCounts{}) {
		t.Fatalf("expected zero counts, got %+v err=%v", counts, err)
	}
	_, err = f.app.CountsFor(ctx, "missing", "bogus")
	assertErr(t, err, ErrInvalidTargetKind)
}

func TestCountsMatchLedgerAfterRandomVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.addUser(t, "office@iiitdwd.ac.in")
	p := f.addProblem(t, author)

	voters := []string{"v1", "v2", "v3", "v4", "v5"}
	state := make(map[string]domain.Polarity)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		voter := voters[rng.Intn(len(voters))]
		pol := domain.PolarityUp
		if rng.Intn(2) == 0 {
			pol = domain.PolarityDown
		}
		res, err := f.app.CastVote(ctx, voter, p.ID, domain.TargetProblem, pol)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}

		switch prev, ok := state[voter]; {
		case !ok:
			state[voter] = pol
			if res.Action != domain.VoteCreated {
				t.Fatalf("vote %d: expected created, got %s", i, res.Action)
			}
		case prev == pol:
			delete(state, voter)
			if res.Action != domain.VoteRemoved {
				t.Fatalf("vote %d: expected removed, got %s", i, res.Action)
			}
		default:
			state[voter] = pol
			if res.Action != domain.VoteSwitched {
				t.Fatalf("vote %d: expected switched, got %s", i, res.Action)
			}
		}

		var want domain.VoteCounts
		for _, v := range state {
			if v == domain.PolarityUp {
				want.Up++
			} else {
				want.Down++
			}
		}
		want.Net = want.Up - want.Down
		if res.Counts != want {
			t.Fatalf("vote %d: counts %+v, want %+v", i, res.Counts, want)
		}
	}
}

func TestTallyScopesByTarget(t *testing.T) {
	votes := []domain.Vote{
		{TargetID: "a", Polarity: domain.PolarityUp},
		{TargetID: "a", Polarity: domain.PolarityUp},
		{TargetID: "a", Polarity: domain.PolarityDown},
		{TargetID: "b", Polarity: domain.PolarityDown},
	}
	got := Tally(votes)
	if got["a"] != (domain.VoteCounts{Up: 2, Down: 1, Net: 1}) {
		t.Fatalf("unexpected counts for a: %+v", got["a"])
	}
	if got["b"] != (domain.VoteCounts{Down: 1, Net: -1}) {
		t.Fatalf("unexpected counts for b: %+v", got["b"])
	}
	if _, ok := got["c"]; ok {
		t.Fatalf("unexpected entry for c")
	}
}

// racingStore simulates a concurrent writer landing the same vote between
// our read and our insert.
type racingStore struct {
	store.Store
	raced bool
}

func (s *racingStore) InsertVote(ctx context.Context, v domain.Vote) error {
	if !s.raced {
		s.raced = true
		rival := v
		rival.ID = v.ID + "-rival"
		if err := s.Store.InsertVote(ctx, rival); err != nil {
			return err
		}
		return store.ErrDuplicate
	}
	return s.Store.InsertVote(ctx, v)
}

// stuckStore loses every conditional delete.
type stuckStore struct {
	store.Store
	deletes int
}

func (s *stuckStore) DeleteVote(context.Context, string, domain.Polarity) (bool, error) {
	s.deletes++
	return false, nil
}

func TestCastVoteRetriesLostInsert(t *testing.T) {
	base := newFixture(t)
	rs := &racingStore{Store: base.store}
	f := newFixtureWithStore(t, base.store, rs)
	ctx := context.Background()
	u := f.addUser(t, "23bcs006@iiitdwd.ac.in")
	p := f.addProblem(t, u)

	res, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, domain.PolarityUp)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	// the rival's vote landed first, so ours toggles it off
	if res.Action != domain.VoteRemoved || res.Counts != (domain.VoteCounts{}) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCastVoteGivesUpAfterRetry(t *testing.T) {
	base := newFixture(t)
	ss := &stuckStore{Store: base.store}
	f := newFixtureWithStore(t, base.store, ss)
	ctx := context.Background()
	u := f.addUser(t, "23bcs006@iiitdwd.ac.in")
	p := f.addProblem(t, u)

	if _, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, domain.PolarityUp); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, domain.PolarityUp)
	assertErr(t, err, ErrVoteConflict)
	if KindOf(err) != KindConflict {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
	if ss.deletes != voteAttempts {
		t.Fatalf("expected %d delete attempts, got %d", voteAttempts, ss.deletes)
	}
}

func TestConcurrentSameVoteKeepsOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "23bcs006@iiitdwd.ac.in")
	p := f.addProblem(t, u)

	var wg sync.WaitGroup
	results := make([]VoteResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.app.CastVote(ctx, u.ID, p.ID, domain.TargetProblem, domain.PolarityUp)
		}()
	}
	wg.Wait()

	actions := make(map[domain.VoteAction]int)
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("vote %d: %v", i, errs[i])
		}
		actions[results[i].Action]++
	}
	if actions[domain.VoteCreated] != 1 || actions[domain.VoteRemoved] != 1 {
		t.Fatalf("expected one created and one removed, got %v", actions)
	}
	counts, err := f.app.CountsFor(ctx, p.ID, domain.TargetProblem)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts != (domain.VoteCounts{}) {
		t.Fatalf("expected no votes left, got %+v", counts)
	}
}
