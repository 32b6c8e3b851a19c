// Package payload emits the per-page JSON files the gallery frontend loads
// at runtime to wire reaction buttons to their backing comments.
package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gallerist/gallerist/internal/content"
	"github.com/gallerist/gallerist/internal/reconcile"
)

// ImageRef points one image at its backing discussion comment.
type ImageRef struct {
	CommentID string `json:"commentId"`
}

// Payload is the frontend contract for one gallery page. Field names are
// load-bearing: the reaction client reads them verbatim.
type Payload struct {
	Repo             string              `json:"repo"`
	RepoID           string              `json:"repoId"`
	CategoryID       string              `json:"categoryId"`
	DiscussionTerm   string              `json:"discussionTerm"`
	DiscussionNumber int                 `json:"discussionNumber"`
	Images           map[string]ImageRef `json:"images"`
}

// Build assembles a payload from a reconciled page result.
func Build(repo reconcile.Repo, prefix string, result reconcile.PageResult) Payload {
	p := Payload{
		Repo:             repo.FullName,
		RepoID:           repo.ID,
		CategoryID:       repo.CategoryID,
		DiscussionTerm:   content.DiscussionTitle(prefix, result.PagePath),
		DiscussionNumber: result.DiscussionNumber,
		Images:           make(map[string]ImageRef, len(result.Comments)),
	}
	for imageID, commentID := range result.Comments {
		p.Images[imageID] = ImageRef{CommentID: commentID}
	}
	return p
}

// Write persists one payload as <dir>/<pagePath>.json, creating the
// directory as needed.
func Write(dir string, result reconcile.PageResult, repo reconcile.Repo, prefix string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create payload dir: %w", err)
	}

	data, err := json.MarshalIndent(Build(repo, prefix, result), "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, result.PagePath+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// WriteAll writes payloads for every successfully reconciled page and
// returns the number written. Failed or skipped pages are left alone so a
// partial sync never clobbers a previous good payload.
func WriteAll(dir string, results []reconcile.PageResult, repo reconcile.Repo, prefix string) (int, error) {
	written := 0
	for _, result := range results {
		if result.Err != nil || result.Skipped {
			continue
		}
		if err := Write(dir, result, repo, prefix); err != nil {
			return written, fmt.Errorf("page %s: %w", result.PagePath, err)
		}
		written++
	}
	return written, nil
}
