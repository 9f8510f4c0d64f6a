package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"issueboard/pkg/domain"
)

// CreateProblem inserts a problem. A slug collision yields ErrDuplicate.
func (s *GormStore) CreateProblem(ctx context.Context, p domain.Problem) error {
	model := problemToModel(p)
	return wrapCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetProblem retrieves a problem.
func (s *GormStore) GetProblem(ctx context.Context, id string) (domain.Problem, bool, error) {
	var model ProblemModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Problem{}, false, nil
		}
		return domain.Problem{}, false, err
	}
	return problemFromModel(model), true, nil
}

// ListProblems returns all problems, newest first.
func (s *GormStore) ListProblems(ctx context.Context) ([]domain.Problem, error) {
	var models []ProblemModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Problem, 0, len(models))
	for _, m := range models {
		out = append(out, problemFromModel(m))
	}
	return out, nil
}

// UpdateProblemStatus sets the triage status and returns the updated row.
func (s *GormStore) UpdateProblemStatus(ctx context.Context, id string, status domain.ProblemStatus) (domain.Problem, bool, error) {
	res := s.db.WithContext(ctx).
		Model(&ProblemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.Problem{}, false, fmt.Errorf("update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Problem{}, false, nil
	}
	return s.GetProblem(ctx, id)
}

// CreateComment records a flat problem comment.
func (s *GormStore) CreateComment(ctx context.Context, c domain.Comment) error {
	model := CommentModel{
		ID:        c.ID,
		Text:      c.Text,
		AuthorID:  c.AuthorID,
		ProblemID: c.ProblemID,
		CreatedAt: c.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListComments returns comments of the given problems, newest first.
func (s *GormStore) ListComments(ctx context.Context, problemIDs ...string) ([]domain.Comment, error) {
	if len(problemIDs) == 0 {
		return []domain.Comment{}, nil
	}
	var models []CommentModel
	if err := s.db.WithContext(ctx).
		Where("problem_id IN ?", problemIDs).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Comment{
			ID:        m.ID,
			Text:      m.Text,
			AuthorID:  m.AuthorID,
			ProblemID: m.ProblemID,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// CreateDiscussion inserts a discussion. A slug collision yields ErrDuplicate.
func (s *GormStore) CreateDiscussion(ctx context.Context, d domain.Discussion) error {
	model := DiscussionModel{
		ID:          d.ID,
		Slug:        d.Slug,
		Title:       d.Title,
		Description: d.Description,
		Images:      datatypes.JSONSlice[string](nonNilStrings(d.Images)),
		AuthorID:    d.AuthorID,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	return wrapCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetDiscussion retrieves a discussion.
func (s *GormStore) GetDiscussion(ctx context.Context, id string) (domain.Discussion, bool, error) {
	var model DiscussionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Discussion{}, false, nil
		}
		return domain.Discussion{}, false, err
	}
	return discussionFromModel(model), true, nil
}

// ListDiscussions returns all discussions, newest first.
func (s *GormStore) ListDiscussions(ctx context.Context) ([]domain.Discussion, error) {
	var models []DiscussionModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Discussion, 0, len(models))
	for _, m := range models {
		out = append(out, discussionFromModel(m))
	}
	return out, nil
}

// CreateDiscussionComment records a discussion comment or reply.
func (s *GormStore) CreateDiscussionComment(ctx context.Context, c domain.DiscussionComment) error {
	model := DiscussionCommentModel{
		ID:           c.ID,
		Text:         c.Text,
		AuthorID:     c.AuthorID,
		DiscussionID: c.DiscussionID,
		CreatedAt:    c.CreatedAt.UTC(),
	}
	if c.ParentCommentID != "" {
		parent := c.ParentCommentID
		model.ParentCommentID = &parent
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetDiscussionComment retrieves one discussion comment.
func (s *GormStore) GetDiscussionComment(ctx context.Context, id string) (domain.DiscussionComment, bool, error) {
	var model DiscussionCommentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DiscussionComment{}, false, nil
		}
		return domain.DiscussionComment{}, false, err
	}
	return discussionCommentFromModel(model), true, nil
}

// ListDiscussionComments returns the flat comment rows of the given
// discussions. Tree shape and ordering are decided by the caller.
func (s *GormStore) ListDiscussionComments(ctx context.Context, discussionIDs ...string) ([]domain.DiscussionComment, error) {
	if len(discussionIDs) == 0 {
		return []domain.DiscussionComment{}, nil
	}
	var models []DiscussionCommentModel
	if err := s.db.WithContext(ctx).
		Where("discussion_id IN ?", discussionIDs).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.DiscussionComment, 0, len(models))
	for _, m := range models {
		out = append(out, discussionCommentFromModel(m))
	}
	return out, nil
}

// TargetExists reports whether a votable entity exists.
func (s *GormStore) TargetExists(ctx context.Context, kind domain.TargetKind, id string) (bool, error) {
	var model any
	switch kind {
	case domain.TargetProblem:
		model = &ProblemModel{}
	case domain.TargetDiscussion:
		model = &DiscussionModel{}
	case domain.TargetComment:
		model = &DiscussionCommentModel{}
	default:
		return false, fmt.Errorf("unknown target kind %q", kind)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func problemToModel(p domain.Problem) ProblemModel {
	return ProblemModel{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Description: p.Description,
		Images:      datatypes.JSONSlice[string](nonNilStrings(p.Images)),
		Status:      string(p.Status),
		AuthorID:    p.AuthorID,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func problemFromModel(m ProblemModel) domain.Problem {
	return domain.Problem{
		ID:          m.ID,
		Slug:        m.Slug,
		Title:       m.Title,
		Description: m.Description,
		Images:      nonNilStrings(m.Images),
		Status:      domain.ProblemStatus(m.Status),
		AuthorID:    m.AuthorID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func discussionFromModel(m DiscussionModel) domain.Discussion {
	return domain.Discussion{
		ID:          m.ID,
		Slug:        m.Slug,
		Title:       m.Title,
		Description: m.Description,
		Images:      nonNilStrings(m.Images),
		AuthorID:    m.AuthorID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func discussionCommentFromModel(m DiscussionCommentModel) domain.DiscussionComment {
	c := domain.DiscussionComment{
		ID:           m.ID,
		Text:         m.Text,
		AuthorID:     m.AuthorID,
		DiscussionID: m.DiscussionID,
		CreatedAt:    m.CreatedAt,
	}
	if m.ParentCommentID != nil {
		c.ParentCommentID = *m.ParentCommentID
	}
	return c
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
