package app

import (
	"sort"

	"issueboard/pkg/domain"
)

// AssembleThreads builds the two-level comment forest of a discussion.
// Top-level comments are newest first, replies oldest first, ties broken by
// id. A reply whose parent is absent or is itself a reply is dropped; the
// number dropped is returned.
func AssembleThreads(comments []domain.DiscussionCommentView) ([]domain.Thread, int) {
	byID := make(map[string]domain.DiscussionCommentView, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}

	var roots []domain.DiscussionCommentView
	replies := make(map[string][]domain.DiscussionCommentView)
	dropped := 0
	for _, c := range comments {
		if !c.IsReply() {
			roots = append(roots, c)
			continue
		}
		parent, ok := byID[c.ParentCommentID]
		if !ok || parent.IsReply() {
			dropped++
			continue
		}
		replies[parent.ID] = append(replies[parent.ID], c)
	}

	sort.Slice(roots, func(i, j int) bool {
		if !roots[i].CreatedAt.Equal(roots[j].CreatedAt) {
			return roots[i].CreatedAt.After(roots[j].CreatedAt)
		}
		return roots[i].ID > roots[j].ID
	})

	threads := make([]domain.Thread, 0, len(roots))
	for _, root := range roots {
		rs := replies[root.ID]
		sort.Slice(rs, func(i, j int) bool {
			if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
				return rs[i].CreatedAt.Before(rs[j].CreatedAt)
			}
			return rs[i].ID < rs[j].ID
		})
		if rs == nil {
			rs = []domain.DiscussionCommentView{}
		}
		threads = append(threads, domain.Thread{DiscussionCommentView: root, Replies: rs})
	}
	return threads, dropped
}
