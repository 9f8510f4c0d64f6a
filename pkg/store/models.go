package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null"`
	PasswordHash string
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type OneTimeCodeModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"not null;index:idx_code_lookup"`
	CodeHash  string    `gorm:"not null;index:idx_code_lookup"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// VoteModel carries the ledger's uniqueness invariant in the schema itself.
type VoteModel struct {
	ID         string    `gorm:"primaryKey"`
	VoterID    string    `gorm:"not null;uniqueIndex:idx_vote_voter_target,priority:1"`
	TargetID   string    `gorm:"not null;uniqueIndex:idx_vote_voter_target,priority:2;index:idx_vote_target,priority:2"`
	TargetKind string    `gorm:"not null;uniqueIndex:idx_vote_voter_target,priority:3;index:idx_vote_target,priority:1"`
	Polarity   string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type ProblemModel struct {
	ID          string `gorm:"primaryKey"`
	Slug        string `gorm:"uniqueIndex;not null"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text;not null"`
	Images      datatypes.JSONSlice[string]
	Status      string    `gorm:"not null;index"`
	AuthorID    string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type CommentModel struct {
	ID        string    `gorm:"primaryKey"`
	Text      string    `gorm:"type:text;not null"`
	AuthorID  string    `gorm:"not null"`
	ProblemID string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type DiscussionModel struct {
	ID          string `gorm:"primaryKey"`
	Slug        string `gorm:"uniqueIndex;not null"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text;not null"`
	Images      datatypes.JSONSlice[string]
	AuthorID    string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type DiscussionCommentModel struct {
	ID              string    `gorm:"primaryKey"`
	Text            string    `gorm:"type:text;not null"`
	AuthorID        string    `gorm:"not null"`
	DiscussionID    string    `gorm:"not null;index"`
	ParentCommentID *string   `gorm:"index"`
	CreatedAt       time.Time `gorm:"not null"`
}
