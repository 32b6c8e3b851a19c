package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const heartContent = "HEART"

type reactionCommentNode struct {
	ID             string `json:"id"`
	Body           string `json:"body"`
	ReactionGroups []struct {
		Content          string `json:"content"`
		ViewerHasReacted bool   `json:"viewerHasReacted"`
		Users            struct {
			TotalCount int `json:"totalCount"`
		} `json:"users"`
	} `json:"reactionGroups"`
}

func (n reactionCommentNode) toComment() ReactionComment {
	out := ReactionComment{ID: n.ID, Body: n.Body}
	for _, group := range n.ReactionGroups {
		if group.Content == heartContent {
			out.HeartCount = group.Users.TotalCount
			out.ViewerHasReacted = group.ViewerHasReacted
			break
		}
	}
	return out
}

type reactionCommentsConnection struct {
	Nodes    []reactionCommentNode `json:"nodes"`
	PageInfo pageInfo              `json:"pageInfo"`
}

// DiscussionReactions fetches the live heart-reaction state for the
// discussion matching the given exact title. The first request rides on
// search; remaining comment pages are fetched by node id so a gallery past
// the 100-comment page cap still sees complete state.
func (c *Client) DiscussionReactions(ctx context.Context, repo, title string) (*DiscussionReactions, error) {
	search := fmt.Sprintf("repo:%s in:title %q", repo, title)
	query := fmt.Sprintf(`query {
  search(query: %s, type: DISCUSSION, first: 10) {
    nodes {
      ... on Discussion {
        id
        number
        title
        comments(first: %d) {
          nodes {
            id
            body
            reactionGroups { content viewerHasReacted users { totalCount } }
          }
          pageInfo { hasNextPage endCursor }
        }
      }
    }
  }
}`, strconv.Quote(search), commentsPageSize)

	var payload struct {
		Search struct {
			Nodes []struct {
				discussionNode
				Comments reactionCommentsConnection `json:"comments"`
			} `json:"nodes"`
		} `json:"search"`
	}
	if err := c.do(ctx, query, nil, &payload); err != nil {
		return nil, fmt.Errorf("search discussion reactions: %w", err)
	}

	for _, node := range payload.Search.Nodes {
		if node.Title != title {
			continue
		}

		result := &DiscussionReactions{
			DiscussionID: node.ID,
			Number:       node.Number,
		}
		for _, cn := range node.Comments.Nodes {
			result.Comments = append(result.Comments, cn.toComment())
		}

		if node.Comments.PageInfo.HasNextPage {
			rest, err := c.reactionCommentsAfter(ctx, node.ID, node.Comments.PageInfo.EndCursor)
			if err != nil {
				return nil, err
			}
			result.Comments = append(result.Comments, rest...)
		}
		return result, nil
	}

	return nil, fmt.Errorf("discussion %q: %w", title, ErrNotFound)
}

func (c *Client) reactionCommentsAfter(ctx context.Context, discussionID, cursor string) ([]ReactionComment, error) {
	const query = `query($id:ID!, $first:Int!, $after:String) {
  node(id:$id) {
    ... on Discussion {
      comments(first:$first, after:$after) {
        nodes {
          id
          body
          reactionGroups { content viewerHasReacted users { totalCount } }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`

	var comments []ReactionComment
	err := c.paginate(ctx, query, map[string]any{
		"id":    discussionID,
		"first": commentsPageSize,
		"after": cursor,
	}, func(page json.RawMessage) (pageInfo, error) {
		var payload struct {
			Node *struct {
				Comments reactionCommentsConnection `json:"comments"`
			} `json:"node"`
		}
		if err := json.Unmarshal(page, &payload); err != nil {
			return pageInfo{}, fmt.Errorf("decode reaction comments page: %w", err)
		}
		if payload.Node == nil {
			return pageInfo{}, fmt.Errorf("discussion %q disappeared during pagination", discussionID)
		}
		for _, cn := range payload.Node.Comments.Nodes {
			comments = append(comments, cn.toComment())
		}
		return payload.Node.Comments.PageInfo, nil
	})
	if err != nil {
		return nil, fmt.Errorf("page reaction comments: %w", err)
	}
	return comments, nil
}

// AddHeart adds the viewer's heart reaction to a comment.
func (c *Client) AddHeart(ctx context.Context, subjectID string) error {
	const mutation = `mutation($id:ID!) {
  addReaction(input:{subjectId:$id, content:HEART}) {
    reaction { id }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": subjectID}, nil); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveHeart removes the viewer's heart reaction from a comment.
func (c *Client) RemoveHeart(ctx context.Context, subjectID string) error {
	const mutation = `mutation($id:ID!) {
  removeReaction(input:{subjectId:$id, content:HEART}) {
    reaction { id }
  }
}`
	if err := c.do(ctx, mutation, map[string]any{"id": subjectID}, nil); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}
