package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gallerist/gallerist/internal/log"
)

// commentsPageSize is GitHub's per-page cap for discussion comments.
const commentsPageSize = 100

type discussionNode struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Locked bool   `json:"locked"`
}

func (n discussionNode) toDiscussion() *Discussion {
	return &Discussion{ID: n.ID, Number: n.Number, Title: n.Title, Body: n.Body, Locked: n.Locked}
}

// FindDiscussions looks up discussions by exact title in one alias-batched
// search request. The result maps title to discussion; titles with no exact
// match are absent. Search is eventually consistent: a discussion created
// moments ago may not be found yet.
func (c *Client) FindDiscussions(ctx context.Context, repo string, titles []string) (map[string]*Discussion, error) {
	if len(titles) == 0 {
		return map[string]*Discussion{}, nil
	}

	var sb strings.Builder
	sb.WriteString("query {\n")
	for i, title := range titles {
		search := fmt.Sprintf("repo:%s in:title %q", repo, title)
		sb.WriteString(fmt.Sprintf(`  d%d: search(query: %s, type: DISCUSSION, first: 10) {
    nodes {
      ... on Discussion { id number title body locked }
    }
  }
`, i, strconv.Quote(search)))
	}
	sb.WriteString("}")

	var raw map[string]json.RawMessage
	if err := c.do(ctx, sb.String(), nil, &raw); err != nil {
		return nil, fmt.Errorf("search discussions: %w", err)
	}

	found := make(map[string]*Discussion, len(titles))
	for i, title := range titles {
		alias := fmt.Sprintf("d%d", i)
		data, ok := raw[alias]
		if !ok || data == nil {
			continue
		}

		var result struct {
			Nodes []discussionNode `json:"nodes"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			log.Debug("skipping unparseable search alias", "alias", alias, "error", err)
			continue
		}

		// Search matches loosely; only an exact title is authoritative.
		for _, node := range result.Nodes {
			if node.Title == title {
				found[title] = node.toDiscussion()
				break
			}
		}
	}

	return found, nil
}

// CreateDiscussion creates a discussion in the configured category.
func (c *Client) CreateDiscussion(ctx context.Context, repoID, categoryID, title, body string) (*Discussion, error) {
	const mutation = `mutation($repoId:ID!, $categoryId:ID!, $title:String!, $body:String!) {
  createDiscussion(input:{repositoryId:$repoId, categoryId:$categoryId, title:$title, body:$body}) {
    discussion { id number title body locked }
  }
}`

	var result struct {
		CreateDiscussion struct {
			Discussion *discussionNode `json:"discussion"`
		} `json:"createDiscussion"`
	}
	err := c.do(ctx, mutation, map[string]any{
		"repoId":     repoID,
		"categoryId": categoryID,
		"title":      title,
		"body":       body,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("create discussion %q: %w", title, err)
	}
	if result.CreateDiscussion.Discussion == nil {
		return nil, fmt.Errorf("create discussion %q: empty response", title)
	}
	return result.CreateDiscussion.Discussion.toDiscussion(), nil
}

// UpdateDiscussionBody replaces a discussion's body.
func (c *Client) UpdateDiscussionBody(ctx context.Context, discussionID, body string) error {
	const mutation = `mutation($id:ID!, $body:String!) {
  updateDiscussion(input:{discussionId:$id, body:$body}) {
    discussion { id }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": discussionID, "body": body}, nil); err != nil {
		return fmt.Errorf("update discussion body: %w", err)
	}
	return nil
}

// AddComment appends a comment and returns its id.
func (c *Client) AddComment(ctx context.Context, discussionID, body string) (string, error) {
	const mutation = `mutation($id:ID!, $body:String!) {
  addDiscussionComment(input:{discussionId:$id, body:$body}) {
    comment { id }
  }
}`

	var result struct {
		AddDiscussionComment struct {
			Comment struct {
				ID string `json:"id"`
			} `json:"comment"`
		} `json:"addDiscussionComment"`
	}
	if err := c.do(ctx, mutation, map[string]any{"id": discussionID, "body": body}, &result); err != nil {
		return "", fmt.Errorf("add comment: %w", err)
	}
	if result.AddDiscussionComment.Comment.ID == "" {
		return "", fmt.Errorf("add comment: empty response")
	}
	return result.AddDiscussionComment.Comment.ID, nil
}

// UpdateComment replaces a comment's body.
func (c *Client) UpdateComment(ctx context.Context, commentID, body string) error {
	const mutation = `mutation($id:ID!, $body:String!) {
  updateDiscussionComment(input:{commentId:$id, body:$body}) {
    comment { id }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": commentID, "body": body}, nil); err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	const mutation = `mutation($id:ID!) {
  deleteDiscussionComment(input:{id:$id}) {
    comment { id }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": commentID}, nil); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// LockDiscussion locks a discussion. Locked discussions reject manual
// comments but still accept reactions.
func (c *Client) LockDiscussion(ctx context.Context, discussionID string) error {
	const mutation = `mutation($id:ID!) {
  lockLockable(input:{lockableId:$id}) {
    lockedRecord { locked }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": discussionID}, nil); err != nil {
		return fmt.Errorf("lock discussion: %w", err)
	}
	return nil
}

// UnlockDiscussion unlocks a discussion ahead of pending mutations.
func (c *Client) UnlockDiscussion(ctx context.Context, discussionID string) error {
	const mutation = `mutation($id:ID!) {
  unlockLockable(input:{lockableId:$id}) {
    unlockedRecord { locked }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": discussionID}, nil); err != nil {
		return fmt.Errorf("unlock discussion: %w", err)
	}
	return nil
}

// ListComments fetches every comment of a discussion, following cursors
// past the 100-per-page cap.
func (c *Client) ListComments(ctx context.Context, discussionID string) ([]Comment, error) {
	const query = `query($id:ID!, $first:Int!, $after:String) {
  node(id:$id) {
    ... on Discussion {
      comments(first:$first, after:$after) {
        nodes { id body }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`

	var comments []Comment
	err := c.paginate(ctx, query, map[string]any{
		"id":    discussionID,
		"first": commentsPageSize,
	}, func(page json.RawMessage) (pageInfo, error) {
		var payload struct {
			Node *struct {
				Comments struct {
					Nodes []struct {
						ID   string `json:"id"`
						Body string `json:"body"`
					} `json:"nodes"`
					PageInfo pageInfo `json:"pageInfo"`
				} `json:"comments"`
			} `json:"node"`
		}
		if err := json.Unmarshal(page, &payload); err != nil {
			return pageInfo{}, fmt.Errorf("decode comments page: %w", err)
		}
		if payload.Node == nil {
			return pageInfo{}, fmt.Errorf("discussion %q not found", discussionID)
		}

		for _, node := range payload.Node.Comments.Nodes {
			comments = append(comments, Comment{ID: node.ID, Body: node.Body})
		}
		return payload.Node.Comments.PageInfo, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
