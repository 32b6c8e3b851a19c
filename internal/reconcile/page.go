package reconcile

import (
	"context"
	"fmt"

	"github.com/gallerist/gallerist/internal/content"
	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
	"github.com/gallerist/gallerist/internal/manifest"
)

// plan is the classified set of mutations one page needs. Applied in
// order: deletes, then updates, then creates, so duplicate elimination
// happens before new content is trusted.
type plan struct {
	bodyStale bool
	deletes   []github.Comment
	updates   []commentUpdate
	creates   []manifest.Image
	// claimed maps image id to the surviving comment id.
	claimed map[string]string
}

type commentUpdate struct {
	commentID string
	image     manifest.Image
}

func (p *plan) pending() bool {
	return p.bodyStale || len(p.deletes) > 0 || len(p.updates) > 0 || len(p.creates) > 0
}

// classify walks fetched comments in order and decides their fate. A
// comment with no parseable marker, an unknown image id, or a duplicate of
// an already-claimed id is deleted; first match wins. Claimed comments
// whose content drifted are updated. Images with no comment are created.
func classify(comments []github.Comment, page manifest.Page, previews content.Previews) *plan {
	images := make(map[string]manifest.Image, len(page.Images))
	for _, img := range page.Images {
		images[img.ID] = img
	}

	p := &plan{claimed: make(map[string]string)}
	for _, comment := range comments {
		id, ok := content.ParseMarker(comment.Body)
		if !ok {
			log.Debug("deleting comment without marker", "comment", comment.ID)
			p.deletes = append(p.deletes, comment)
			continue
		}
		img, known := images[id]
		if !known {
			log.Debug("deleting orphaned comment", "comment", comment.ID, "image", id)
			p.deletes = append(p.deletes, comment)
			continue
		}
		if _, dup := p.claimed[id]; dup {
			log.Debug("deleting duplicate comment", "comment", comment.ID, "image", id)
			p.deletes = append(p.deletes, comment)
			continue
		}

		p.claimed[id] = comment.ID
		if !content.CommentCurrent(comment.Body, previews, img) {
			p.updates = append(p.updates, commentUpdate{commentID: comment.ID, image: img})
		}
	}

	for _, img := range page.Images {
		if _, ok := p.claimed[img.ID]; !ok {
			p.creates = append(p.creates, img)
		}
	}

	return p
}

// syncPage reconciles one page. All errors are returned inside the
// PageResult; the caller isolates them so one page cannot sink the run.
func (r *Reconciler) syncPage(ctx context.Context, page manifest.Page, disc *github.Discussion, summary *Summary) PageResult {
	result := PageResult{
		PagePath: page.PagePath,
		Comments: make(map[string]string, len(page.Images)),
	}

	if disc == nil {
		result.Err = r.createPage(ctx, page, &result, summary)
		return result
	}
	result.DiscussionNumber = disc.Number

	comments, err := r.api.ListComments(ctx, disc.ID)
	if err != nil {
		result.Err = fmt.Errorf("list comments: %w", err)
		return result
	}

	p := classify(comments, page, r.previews)
	if !content.DiscussionCurrent(disc.Body, r.site, page) {
		p.bodyStale = true
	}
	for id, commentID := range p.claimed {
		result.Comments[id] = commentID
	}

	// Unlock only when a mutation will follow; a locked, fully synced
	// discussion stays untouched so an unchanged manifest is a no-op.
	if p.pending() && disc.Locked {
		if err := r.exec.Do(ctx, "unlockDiscussion "+page.PagePath, func(ctx context.Context) error {
			return r.api.UnlockDiscussion(ctx, disc.ID)
		}); err != nil {
			result.Err = err
			return result
		}
	}

	if p.bodyStale {
		body := content.DiscussionBody(r.site, page)
		if err := r.exec.Do(ctx, "updateDiscussion "+page.PagePath, func(ctx context.Context) error {
			return r.api.UpdateDiscussionBody(ctx, disc.ID, body)
		}); err != nil {
			result.Err = err
			return result
		}
		summary.Updated++
	}

	for _, comment := range p.deletes {
		commentID := comment.ID
		if err := r.exec.Do(ctx, "deleteComment "+page.PagePath, func(ctx context.Context) error {
			return r.api.DeleteComment(ctx, commentID)
		}); err != nil {
			result.Err = err
			return result
		}
		summary.Deleted++
	}

	for _, update := range p.updates {
		update := update
		body := content.CommentBody(r.previews, update.image)
		if err := r.exec.Do(ctx, "updateComment "+page.PagePath, func(ctx context.Context) error {
			return r.api.UpdateComment(ctx, update.commentID, body)
		}); err != nil {
			result.Err = err
			return result
		}
		summary.Updated++
	}

	for _, img := range p.creates {
		img := img
		body := content.CommentBody(r.previews, img)
		var commentID string
		if err := r.exec.Do(ctx, "addComment "+page.PagePath, func(ctx context.Context) error {
			var err error
			commentID, err = r.api.AddComment(ctx, disc.ID, body)
			return err
		}); err != nil {
			result.Err = err
			return result
		}
		result.Comments[img.ID] = commentID
		summary.Created++
	}

	// Re-lock once nothing is pending; also heals a discussion someone
	// unlocked by hand.
	if p.pending() || !disc.Locked {
		if err := r.exec.Do(ctx, "lockDiscussion "+page.PagePath, func(ctx context.Context) error {
			return r.api.LockDiscussion(ctx, disc.ID)
		}); err != nil {
			result.Err = err
			return result
		}
	}

	return result
}

// createPage builds a fresh discussion with one comment per image in
// manifest order, then locks it.
func (r *Reconciler) createPage(ctx context.Context, page manifest.Page, result *PageResult, summary *Summary) error {
	title := content.DiscussionTitle(r.prefix, page.PagePath)
	body := content.DiscussionBody(r.site, page)

	var disc *github.Discussion
	if err := r.exec.Do(ctx, "createDiscussion "+page.PagePath, func(ctx context.Context) error {
		var err error
		disc, err = r.api.CreateDiscussion(ctx, r.repo.ID, r.repo.CategoryID, title, body)
		return err
	}); err != nil {
		return err
	}
	result.DiscussionNumber = disc.Number

	for _, img := range page.Images {
		img := img
		commentBody := content.CommentBody(r.previews, img)
		var commentID string
		if err := r.exec.Do(ctx, "addComment "+page.PagePath, func(ctx context.Context) error {
			var err error
			commentID, err = r.api.AddComment(ctx, disc.ID, commentBody)
			return err
		}); err != nil {
			return err
		}
		result.Comments[img.ID] = commentID
		summary.Created++
	}

	if err := r.exec.Do(ctx, "lockDiscussion "+page.PagePath, func(ctx context.Context) error {
		return r.api.LockDiscussion(ctx, disc.ID)
	}); err != nil {
		return err
	}

	log.Info("created discussion", "page", page.PagePath, "number", disc.Number, "comments", len(page.Images))
	return nil
}

// Snapshot reads current remote state without mutating: discussion numbers
// and image→comment mappings for the page payloads. Used by the payload
// command, which must stay read-only.
func (r *Reconciler) Snapshot(ctx context.Context, pages []manifest.Page) []PageResult {
	summary := &Summary{Total: len(pages)}
	found := r.discover(ctx, pages, summary)

	results := summary.Pages // discovery failures carry over
	for _, page := range pages {
		disc, done := found[page.PagePath]
		if !done {
			continue
		}

		result := PageResult{PagePath: page.PagePath, Comments: make(map[string]string)}
		if disc == nil {
			result.Err = fmt.Errorf("no discussion for page %q (run sync first)", page.PagePath)
			results = append(results, result)
			continue
		}
		result.DiscussionNumber = disc.Number

		comments, err := r.api.ListComments(ctx, disc.ID)
		if err != nil {
			result.Err = fmt.Errorf("list comments: %w", err)
			results = append(results, result)
			continue
		}
		for _, comment := range comments {
			if id, ok := content.ParseMarker(comment.Body); ok {
				if _, claimed := result.Comments[id]; !claimed {
					result.Comments[id] = comment.ID
				}
			}
		}
		results = append(results, result)
	}

	return results
}
