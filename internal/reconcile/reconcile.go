// Package reconcile brings remote discussion/comment state into agreement
// with the local gallery manifest: one discussion per gallery page, one
// comment per image, minimum necessary mutations.
package reconcile

import (
	"context"
	"fmt"

	"github.com/gallerist/gallerist/internal/content"
	"github.com/gallerist/gallerist/internal/executor"
	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
	"github.com/gallerist/gallerist/internal/manifest"
)

// searchBatchSize groups discovery lookups to respect search query
// complexity limits while keeping round-trips low.
const searchBatchSize = 10

// API is the GitHub surface the reconciler drives. *github.Client
// satisfies it; tests substitute a fake.
type API interface {
	FindDiscussions(ctx context.Context, repo string, titles []string) (map[string]*github.Discussion, error)
	ListComments(ctx context.Context, discussionID string) ([]github.Comment, error)
	CreateDiscussion(ctx context.Context, repoID, categoryID, title, body string) (*github.Discussion, error)
	UpdateDiscussionBody(ctx context.Context, discussionID, body string) error
	AddComment(ctx context.Context, discussionID, body string) (string, error)
	UpdateComment(ctx context.Context, commentID, body string) error
	DeleteComment(ctx context.Context, commentID string) error
	LockDiscussion(ctx context.Context, discussionID string) error
	UnlockDiscussion(ctx context.Context, discussionID string) error
}

// Repo identifies the target repository and discussion category.
type Repo struct {
	FullName   string // owner/name
	ID         string // node id, required by createDiscussion
	CategoryID string
}

// Complete reports whether the coordinates suffice for reconciliation.
func (r Repo) Complete() bool {
	return r.FullName != "" && r.ID != "" && r.CategoryID != ""
}

// Reconciler synchronizes one build's manifest against remote state.
type Reconciler struct {
	api      API
	exec     *executor.Executor
	budget   *executor.Budget
	repo     Repo
	prefix   string
	site     content.Site
	previews content.Previews
}

// New wires a reconciler for one build invocation. The budget must be the
// same one observing the api client's rate-limit headers.
func New(api API, exec *executor.Executor, budget *executor.Budget, repo Repo, prefix string, site content.Site, previews content.Previews) *Reconciler {
	return &Reconciler{
		api:      api,
		exec:     exec,
		budget:   budget,
		repo:     repo,
		prefix:   prefix,
		site:     site,
		previews: previews,
	}
}

// PageResult is the outcome of reconciling one gallery page.
type PageResult struct {
	PagePath         string
	DiscussionNumber int
	// Comments maps image id to comment id for the page payload.
	Comments map[string]string
	Err      error
	Skipped  bool
}

// Summary aggregates one reconciliation run. It is the only build-visible
// signal; page failures never propagate out of Run.
type Summary struct {
	Total   int
	Synced  int
	Failed  int
	Skipped int

	Created int
	Updated int
	Deleted int

	Pages []PageResult
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d/%d pages synced (%d created, %d updated, %d deleted; %d failed, %d skipped)",
		s.Synced, s.Total, s.Created, s.Updated, s.Deleted, s.Failed, s.Skipped)
}

// Run reconciles all pages sequentially. Pages are never processed in
// parallel: one mutation stream keeps the whole build inside a single
// rate budget that is easy to reason about.
func (r *Reconciler) Run(ctx context.Context, pages []manifest.Page) *Summary {
	summary := &Summary{Total: len(pages)}

	if !r.repo.Complete() {
		log.Warn("reconciliation skipped: repo, repo id, and category id are all required")
		for _, page := range pages {
			summary.Pages = append(summary.Pages, PageResult{PagePath: page.PagePath, Skipped: true})
			summary.Skipped++
		}
		return summary
	}

	found := r.discover(ctx, pages, summary)

	for i, page := range pages {
		if _, done := found[page.PagePath]; !done {
			// Discovery for this page failed; already recorded.
			continue
		}
		if r.budget.Aborted() {
			log.Warn("rate limit exhausted, skipping remaining pages", "page", page.PagePath)
			summary.Pages = append(summary.Pages, PageResult{PagePath: page.PagePath, Skipped: true})
			summary.Skipped++
			continue
		}

		log.Progress("syncing pages %d/%d", i+1, len(pages))
		result := r.syncPage(ctx, page, found[page.PagePath], summary)
		summary.Pages = append(summary.Pages, result)
		if result.Err != nil {
			summary.Failed++
			log.Error("page sync failed", "page", page.PagePath, "error", result.Err)
		} else {
			summary.Synced++
		}
	}
	log.ProgressDone()

	return summary
}

// discover batch-searches for existing discussions. The returned map has
// one entry per page whose discovery succeeded; the value is nil when no
// discussion exists yet. Pages in a failed batch are recorded as failed.
func (r *Reconciler) discover(ctx context.Context, pages []manifest.Page, summary *Summary) map[string]*github.Discussion {
	found := make(map[string]*github.Discussion, len(pages))

	for start := 0; start < len(pages); start += searchBatchSize {
		end := min(start+searchBatchSize, len(pages))
		batch := pages[start:end]

		titles := make([]string, 0, len(batch))
		for _, page := range batch {
			titles = append(titles, content.DiscussionTitle(r.prefix, page.PagePath))
		}

		matches, err := r.api.FindDiscussions(ctx, r.repo.FullName, titles)
		if err != nil {
			log.Error("discovery batch failed", "pages", len(batch), "error", err)
			for _, page := range batch {
				summary.Pages = append(summary.Pages, PageResult{
					PagePath: page.PagePath,
					Err:      fmt.Errorf("discovery: %w", err),
				})
				summary.Failed++
			}
			continue
		}

		for i, page := range batch {
			found[page.PagePath] = matches[titles[i]]
		}
	}

	return found
}
