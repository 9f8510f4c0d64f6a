package domain

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleAdmin   UserRole = "admin"
)

type TargetKind string

const (
	TargetProblem    TargetKind = "problem"
	TargetDiscussion TargetKind = "discussion"
	TargetComment    TargetKind = "comment"
)

// ParseTargetKind accepts the canonical kinds plus the plural and
// "discussion_comment" spellings used by older clients.
func ParseTargetKind(raw string) (TargetKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "problem", "problems":
		return TargetProblem, true
	case "discussion", "discussions":
		return TargetDiscussion, true
	case "comment", "comments", "discussion_comment", "discussioncomment":
		return TargetComment, true
	default:
		return "", false
	}
}

type Polarity string

const (
	PolarityUp   Polarity = "UP"
	PolarityDown Polarity = "DOWN"
)

// ParsePolarity accepts UP/DOWN and the UPVOTE/DOWNVOTE spelling, any case.
func ParsePolarity(raw string) (Polarity, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "UP", "UPVOTE":
		return PolarityUp, true
	case "DOWN", "DOWNVOTE":
		return PolarityDown, true
	default:
		return "", false
	}
}

// Opposite returns the other polarity.
func (p Polarity) Opposite() Polarity {
	if p == PolarityUp {
		return PolarityDown
	}
	return PolarityUp
}

type VoteAction string

const (
	VoteCreated  VoteAction = "created"
	VoteRemoved  VoteAction = "removed"
	VoteSwitched VoteAction = "switched"
)

type ProblemStatus string

const (
	StatusPending    ProblemStatus = "PENDING"
	StatusInProgress ProblemStatus = "IN_PROGRESS"
	StatusCompleted  ProblemStatus = "COMPLETED"
)

func ParseProblemStatus(raw string) (ProblemStatus, bool) {
	switch ProblemStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusCompleted:
		return StatusCompleted, true
	default:
		return "", false
	}
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Summary is the public projection of a user attached to authored content.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, IsAdmin: u.IsAdmin()}
}

type UserSummary struct {
	ID      string   `json:"id"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Role    UserRole `json:"role"`
	IsAdmin bool     `json:"isAdmin"`
}

// OneTimeCode is a signup verification code. Only a digest of the code is kept.
type OneTimeCode struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type Vote struct {
	ID         string     `json:"id"`
	VoterID    string     `json:"voterId"`
	TargetID   string     `json:"targetId"`
	TargetKind TargetKind `json:"targetKind"`
	Polarity   Polarity   `json:"polarity"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type VoteCounts struct {
	Up   int `json:"upvotes"`
	Down int `json:"downvotes"`
	Net  int `json:"netVotes"`
}

type Problem struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Images      []string      `json:"images"`
	Status      ProblemStatus `json:"status"`
	AuthorID    string        `json:"authorId"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type Discussion struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Images      []string  `json:"images"`
	AuthorID    string    `json:"authorId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Comment is a flat comment on a problem.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"authorId"`
	ProblemID string    `json:"problemId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DiscussionComment is a comment on a discussion. ParentCommentID is empty
// for top-level comments.
type DiscussionComment struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	AuthorID        string    `json:"authorId"`
	DiscussionID    string    `json:"discussionId"`
	ParentCommentID string    `json:"parentCommentId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (c DiscussionComment) IsReply() bool {
	return c.ParentCommentID != ""
}

type ProblemView struct {
	Problem
	Author   UserSummary   `json:"user"`
	Comments []CommentView `json:"comments"`
	VoteCounts
}

type CommentView struct {
	Comment
	Author UserSummary `json:"user"`
}

type DiscussionView struct {
	Discussion
	Author   UserSummary `json:"user"`
	Comments []Thread    `json:"comments"`
	VoteCounts
}

type DiscussionCommentView struct {
	DiscussionComment
	Author UserSummary `json:"user"`
	VoteCounts
}

// Thread is a top-level discussion comment with its direct replies.
type Thread struct {
	DiscussionCommentView
	Replies []DiscussionCommentView `json:"replies"`
}
