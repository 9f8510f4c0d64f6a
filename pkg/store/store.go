package store

import (
	"context"
	"errors"

	"issueboard/pkg/domain"
)

// ErrDuplicate is returned when a write hits a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

// Store defines persistence operations for users, codes, votes and content.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]domain.User, error)

	// one-time codes
	SaveCode(ctx context.Context, c domain.OneTimeCode) error
	ListCodes(ctx context.Context, email, codeHash string) ([]domain.OneTimeCode, error)
	ConsumeCode(ctx context.Context, id string) (bool, error)

	VoteLedger

	// problems
	CreateProblem(ctx context.Context, p domain.Problem) error
	GetProblem(ctx context.Context, id string) (domain.Problem, bool, error)
	ListProblems(ctx context.Context) ([]domain.Problem, error)
	UpdateProblemStatus(ctx context.Context, id string, status domain.ProblemStatus) (domain.Problem, bool, error)
	CreateComment(ctx context.Context, c domain.Comment) error
	ListComments(ctx context.Context, problemIDs ...string) ([]domain.Comment, error)

	// discussions
	CreateDiscussion(ctx context.Context, d domain.Discussion) error
	GetDiscussion(ctx context.Context, id string) (domain.Discussion, bool, error)
	ListDiscussions(ctx context.Context) ([]domain.Discussion, error)
	CreateDiscussionComment(ctx context.Context, c domain.DiscussionComment) error
	GetDiscussionComment(ctx context.Context, id string) (domain.DiscussionComment, bool, error)
	ListDiscussionComments(ctx context.Context, discussionIDs ...string) ([]domain.DiscussionComment, error)

	// TargetExists reports whether a votable entity of the given kind exists.
	TargetExists(ctx context.Context, kind domain.TargetKind, id string) (bool, error)
}

// VoteLedger holds one row per (voter, target, kind). Writes are conditional
// so a caller can detect that a concurrent writer changed the row first.
type VoteLedger interface {
	FindVote(ctx context.Context, voterID, targetID string, kind domain.TargetKind) (domain.Vote, bool, error)
	// InsertVote returns ErrDuplicate when a row for the triple already exists.
	InsertVote(ctx context.Context, v domain.Vote) error
	// DeleteVote removes the row only if it still has the given polarity.
	DeleteVote(ctx context.Context, id string, polarity domain.Polarity) (bool, error)
	// SwitchVote flips the row only if it still has polarity from.
	SwitchVote(ctx context.Context, id string, from, to domain.Polarity) (bool, error)
	ListVotes(ctx context.Context, kind domain.TargetKind, targetIDs ...string) ([]domain.Vote, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
