package app

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"

	"issueboard/pkg/domain"
)

const maxImages = 5

// CreateProblem files a new problem in PENDING state.
func (a *App) CreateProblem(ctx context.Context, author domain.User, title, description string, images []string) (domain.ProblemView, error) {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if title == "" || description == "" {
		return domain.ProblemView{}, ErrMissingFields.withMessage("title and description are required")
	}
	imgs, err := cleanImages(images)
	if err != nil {
		return domain.ProblemView{}, err
	}
	now := a.now()
	id := a.newID()
	p := domain.Problem{
		ID:          id,
		Slug:        makeSlug(title, id, "problem"),
		Title:       title,
		Description: description,
		Images:      imgs,
		Status:      domain.StatusPending,
		AuthorID:    author.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateProblem(ctx, p); err != nil {
		return domain.ProblemView{}, internal("create problem", err)
	}
	return domain.ProblemView{
		Problem:  p,
		Author:   author.Summary(),
		Comments: []domain.CommentView{},
	}, nil
}

// ListProblems returns every problem newest first with derived counts and
// comments.
func (a *App) ListProblems(ctx context.Context) ([]domain.ProblemView, error) {
	problems, err := a.store.ListProblems(ctx)
	if err != nil {
		return nil, internal("list problems", err)
	}
	return a.problemViews(ctx, problems)
}

// GetProblem returns one problem with derived counts and comments.
func (a *App) GetProblem(ctx context.Context, id string) (domain.ProblemView, error) {
	p, ok, err := a.store.GetProblem(ctx, id)
	if err != nil {
		return domain.ProblemView{}, internal("get problem", err)
	}
	if !ok {
		return domain.ProblemView{}, ErrTargetNotFound.withMessage("problem not found")
	}
	views, err := a.problemViews(ctx, []domain.Problem{p})
	if err != nil {
		return domain.ProblemView{}, err
	}
	return views[0], nil
}

// UpdateProblemStatus lets an admin move a problem through triage.
func (a *App) UpdateProblemStatus(ctx context.Context, actor domain.User, id, rawStatus string) (domain.ProblemView, error) {
	if !actor.IsAdmin() {
		return domain.ProblemView{}, ErrForbidden
	}
	status, ok := domain.ParseProblemStatus(rawStatus)
	if !ok {
		return domain.ProblemView{}, ErrInvalidStatus
	}
	if _, ok, err := a.store.UpdateProblemStatus(ctx, id, status); err != nil {
		return domain.ProblemView{}, internal("update problem status", err)
	} else if !ok {
		return domain.ProblemView{}, ErrTargetNotFound.withMessage("problem not found")
	}
	a.log(ctx).Info("problem status changed", "problem_id", id, "status", status, "actor_id", actor.ID)
	return a.GetProblem(ctx, id)
}

// AddProblemComment appends a flat comment to a problem.
func (a *App) AddProblemComment(ctx context.Context, author domain.User, problemID, text string) (domain.CommentView, error) {
	text = strings.TrimSpace(text)
	if text == "" || problemID == "" {
		return domain.CommentView{}, ErrMissingFields.withMessage("problemId and text are required")
	}
	exists, err := a.store.TargetExists(ctx, domain.TargetProblem, problemID)
	if err != nil {
		return domain.CommentView{}, internal("check problem", err)
	}
	if !exists {
		return domain.CommentView{}, ErrTargetNotFound.withMessage("problem not found")
	}
	c := domain.Comment{
		ID:        a.newID(),
		Text:      text,
		AuthorID:  author.ID,
		ProblemID: problemID,
		CreatedAt: a.now(),
	}
	if err := a.store.CreateComment(ctx, c); err != nil {
		return domain.CommentView{}, internal("create comment", err)
	}
	return domain.CommentView{Comment: c, Author: author.Summary()}, nil
}

// ListProblemComments returns a problem's comments newest first.
func (a *App) ListProblemComments(ctx context.Context, problemID string) ([]domain.CommentView, error) {
	comments, err := a.store.ListComments(ctx, problemID)
	if err != nil {
		return nil, internal("list comments", err)
	}
	authorIDs := make([]string, 0, len(comments))
	for _, c := range comments {
		authorIDs = append(authorIDs, c.AuthorID)
	}
	users, err := a.userSummaries(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CommentView, 0, len(comments))
	for _, c := range comments {
		out = append(out, domain.CommentView{Comment: c, Author: users.get(c.AuthorID)})
	}
	return out, nil
}

func (a *App) problemViews(ctx context.Context, problems []domain.Problem) ([]domain.ProblemView, error) {
	ids := make([]string, 0, len(problems))
	for _, p := range problems {
		ids = append(ids, p.ID)
	}

	var (
		comments []domain.Comment
		counts   map[string]domain.VoteCounts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		comments, err = a.store.ListComments(gctx, ids...)
		if err != nil {
			return internal("list comments", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		counts, err = a.countsByTarget(gctx, domain.TargetProblem, ids...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	authorIDs := make([]string, 0, len(problems)+len(comments))
	for _, p := range problems {
		authorIDs = append(authorIDs, p.AuthorID)
	}
	byProblem := make(map[string][]domain.Comment)
	for _, c := range comments {
		authorIDs = append(authorIDs, c.AuthorID)
		byProblem[c.ProblemID] = append(byProblem[c.ProblemID], c)
	}
	users, err := a.userSummaries(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProblemView, 0, len(problems))
	for _, p := range problems {
		cv := make([]domain.CommentView, 0, len(byProblem[p.ID]))
		for _, c := range byProblem[p.ID] {
			cv = append(cv, domain.CommentView{Comment: c, Author: users.get(c.AuthorID)})
		}
		out = append(out, domain.ProblemView{
			Problem:    p,
			Author:     users.get(p.AuthorID),
			Comments:   cv,
			VoteCounts: counts[p.ID],
		})
	}
	return out, nil
}

// CreateDiscussion opens a new discussion.
func (a *App) CreateDiscussion(ctx context.Context, author domain.User, title, description string, images []string) (domain.DiscussionView, error) {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if title == "" || description == "" {
		return domain.DiscussionView{}, ErrMissingFields.withMessage("title and description are required")
	}
	imgs, err := cleanImages(images)
	if err != nil {
		return domain.DiscussionView{}, err
	}
	now := a.now()
	id := a.newID()
	d := domain.Discussion{
		ID:          id,
		Slug:        makeSlug(title, id, "discussion"),
		Title:       title,
		Description: description,
		Images:      imgs,
		AuthorID:    author.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateDiscussion(ctx, d); err != nil {
		return domain.DiscussionView{}, internal("create discussion", err)
	}
	return domain.DiscussionView{
		Discussion: d,
		Author:     author.Summary(),
		Comments:   []domain.Thread{},
	}, nil
}

// ListDiscussions returns every discussion newest first with counts and
// assembled threads.
func (a *App) ListDiscussions(ctx context.Context) ([]domain.DiscussionView, error) {
	discussions, err := a.store.ListDiscussions(ctx)
	if err != nil {
		return nil, internal("list discussions", err)
	}
	return a.discussionViews(ctx, discussions)
}

// GetDiscussion returns one discussion with counts and assembled threads.
func (a *App) GetDiscussion(ctx context.Context, id string) (domain.DiscussionView, error) {
	d, ok, err := a.store.GetDiscussion(ctx, id)
	if err != nil {
		return domain.DiscussionView{}, internal("get discussion", err)
	}
	if !ok {
		return domain.DiscussionView{}, ErrTargetNotFound.withMessage("discussion not found")
	}
	views, err := a.discussionViews(ctx, []domain.Discussion{d})
	if err != nil {
		return domain.DiscussionView{}, err
	}
	return views[0], nil
}

// AddDiscussionComment posts a top-level comment, or a reply when parentID
// names a top-level comment of the same discussion.
func (a *App) AddDiscussionComment(ctx context.Context, author domain.User, discussionID, text, parentID string) (domain.DiscussionCommentView, error) {
	text = strings.TrimSpace(text)
	parentID = strings.TrimSpace(parentID)
	if text == "" {
		return domain.DiscussionCommentView{}, ErrMissingFields.withMessage("comment text is required")
	}
	exists, err := a.store.TargetExists(ctx, domain.TargetDiscussion, discussionID)
	if err != nil {
		return domain.DiscussionCommentView{}, internal("check discussion", err)
	}
	if !exists {
		return domain.DiscussionCommentView{}, ErrTargetNotFound.withMessage("discussion not found")
	}
	if parentID != "" {
		parent, ok, err := a.store.GetDiscussionComment(ctx, parentID)
		if err != nil {
			return domain.DiscussionCommentView{}, internal("get parent comment", err)
		}
		if !ok || parent.DiscussionID != discussionID {
			return domain.DiscussionCommentView{}, ErrParentNotFound
		}
		if parent.IsReply() {
			return domain.DiscussionCommentView{}, ErrNestedReply
		}
	}
	c := domain.DiscussionComment{
		ID:              a.newID(),
		Text:            text,
		AuthorID:        author.ID,
		DiscussionID:    discussionID,
		ParentCommentID: parentID,
		CreatedAt:       a.now(),
	}
	if err := a.store.CreateDiscussionComment(ctx, c); err != nil {
		return domain.DiscussionCommentView{}, internal("create discussion comment", err)
	}
	return domain.DiscussionCommentView{DiscussionComment: c, Author: author.Summary()}, nil
}

func (a *App) discussionViews(ctx context.Context, discussions []domain.Discussion) ([]domain.DiscussionView, error) {
	ids := make([]string, 0, len(discussions))
	for _, d := range discussions {
		ids = append(ids, d.ID)
	}

	comments, err := a.store.ListDiscussionComments(ctx, ids...)
	if err != nil {
		return nil, internal("list discussion comments", err)
	}
	commentIDs := make([]string, 0, len(comments))
	authorIDs := make([]string, 0, len(discussions)+len(comments))
	for _, d := range discussions {
		authorIDs = append(authorIDs, d.AuthorID)
	}
	for _, c := range comments {
		commentIDs = append(commentIDs, c.ID)
		authorIDs = append(authorIDs, c.AuthorID)
	}

	var (
		discussionCounts map[string]domain.VoteCounts
		commentCounts    map[string]domain.VoteCounts
		users            userIndex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		discussionCounts, err = a.countsByTarget(gctx, domain.TargetDiscussion, ids...)
		return err
	})
	g.Go(func() error {
		var err error
		commentCounts, err = a.countsByTarget(gctx, domain.TargetComment, commentIDs...)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = a.userSummaries(gctx, authorIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byDiscussion := make(map[string][]domain.DiscussionCommentView)
	for _, c := range comments {
		byDiscussion[c.DiscussionID] = append(byDiscussion[c.DiscussionID], domain.DiscussionCommentView{
			DiscussionComment: c,
			Author:            users.get(c.AuthorID),
			VoteCounts:        commentCounts[c.ID],
		})
	}

	out := make([]domain.DiscussionView, 0, len(discussions))
	for _, d := range discussions {
		threads, dropped := AssembleThreads(byDiscussion[d.ID])
		if dropped > 0 {
			a.log(ctx).Debug("dropped orphan replies", "discussion_id", d.ID, "count", dropped)
		}
		out = append(out, domain.DiscussionView{
			Discussion: d,
			Author:     users.get(d.AuthorID),
			Comments:   threads,
			VoteCounts: discussionCounts[d.ID],
		})
	}
	return out, nil
}

type userIndex map[string]domain.UserSummary

// get returns the author summary, or a bare id when the user is gone.
func (u userIndex) get(id string) domain.UserSummary {
	if s, ok := u[id]; ok {
		return s
	}
	return domain.UserSummary{ID: id}
}

func (a *App) userSummaries(ctx context.Context, ids []string) (userIndex, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	users, err := a.store.GetUsersByIDs(ctx, unique)
	if err != nil {
		return nil, internal("load authors", err)
	}
	out := make(userIndex, len(users))
	for id, u := range users {
		out[id] = u.Summary()
	}
	return out, nil
}

func makeSlug(title, id, fallback string) string {
	base := slug.Make(title)
	if base == "" {
		base = fallback
	}
	if len(base) > 60 {
		base = strings.Trim(base[:60], "-")
	}
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return base + "-" + suffix
}

func cleanImages(images []string) ([]string, error) {
	out := make([]string, 0, len(images))
	for _, img := range images {
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	if len(out) > maxImages {
		return nil, ErrMissingFields.withMessage("at most 5 images are allowed")
	}
	return out, nil
}
