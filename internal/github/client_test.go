package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fakeObserver struct {
	seen []int
}

func (f *fakeObserver) Observe(remaining int) {
	f.seen = append(f.seen, remaining)
}

func decodeRequest(t *testing.T, r *http.Request) recordedRequest {
	t.Helper()
	var req recordedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestRateLimitHeaderObserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "41")
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer srv.Close()

	obs := &fakeObserver{}
	c := NewClient("tok", WithEndpoint(srv.URL), WithRateObserver(obs))

	if err := c.do(context.Background(), "query {}", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(obs.seen) != 1 || obs.seen[0] != 41 {
		t.Errorf("observer saw %v, want [41]", obs.seen)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer srv.Close()

	c := NewClient("secret", WithEndpoint(srv.URL))
	if err := c.do(context.Background(), "query {}", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	// Anonymous clients must not send a header at all.
	anon := NewClient("", WithEndpoint(srv.URL))
	if err := anon.do(context.Background(), "query {}", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("anonymous Authorization = %q, want empty", gotAuth)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("graphql error payload with secondary limit message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"errors":[{"message":"You have exceeded a secondary rate limit. Please wait."}]}`)
		}))
		defer srv.Close()

		c := NewClient("tok", WithEndpoint(srv.URL))
		err := c.do(context.Background(), "mutation {}", nil, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsSecondaryRateLimit(err) {
			t.Errorf("IsSecondaryRateLimit = false for %v", err)
		}
		if IsTransient(err) {
			t.Errorf("secondary limit should not classify as transient")
		}
	})

	t.Run("retry-after hint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"You have triggered an abuse detection mechanism"}`)
		}))
		defer srv.Close()

		c := NewClient("tok", WithEndpoint(srv.URL))
		err := c.do(context.Background(), "mutation {}", nil, nil)
		if err == nil {
			t.Fatal("expected error")
		}

		hint, ok := RetryAfterHint(err)
		if !ok || hint != 7*time.Second {
			t.Errorf("RetryAfterHint = %v,%v want 7s,true", hint, ok)
		}
		if !IsSecondaryRateLimit(err) {
			t.Errorf("abuse detection message should classify as secondary limit")
		}
	})

	t.Run("5xx is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient("tok", WithEndpoint(srv.URL))
		err := c.do(context.Background(), "query {}", nil, nil)
		if !IsTransient(err) {
			t.Errorf("502 should be transient, got %v", err)
		}
	})
}

func TestFindDiscussions(t *testing.T) {
	var got recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		fmt.Fprint(w, `{"data":{
			"d0":{"nodes":[
				{"id":"D1","number":7,"title":"[Masonry] iceland-2024","body":"b","locked":true},
				{"id":"DX","number":8,"title":"[Masonry] iceland-2024-extra","body":"","locked":false}
			]},
			"d1":{"nodes":[]}
		}}`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithEndpoint(srv.URL))
	found, err := c.FindDiscussions(context.Background(), "owner/repo", []string{
		"[Masonry] iceland-2024",
		"[Masonry] city-nights",
	})
	if err != nil {
		t.Fatalf("FindDiscussions: %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("found %d discussions, want 1 (exact title match only)", len(found))
	}
	d := found["[Masonry] iceland-2024"]
	if d == nil || d.ID != "D1" || d.Number != 7 || !d.Locked {
		t.Errorf("unexpected discussion: %+v", d)
	}

	// Both lookups must ride in one aliased request.
	if !strings.Contains(got.Query, "d0: search") || !strings.Contains(got.Query, "d1: search") {
		t.Errorf("expected aliased batch query, got:\n%s", got.Query)
	}
	if !strings.Contains(got.Query, `repo:owner/repo in:title`) {
		t.Errorf("search term missing repo scope:\n%s", got.Query)
	}
}

func TestListCommentsPaginates(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		after, _ := req.Variables["after"].(string)
		cursors = append(cursors, after)

		start := 0
		if after == "cursor-100" {
			start = 100
		}
		var nodes []string
		for i := start; i < start+100 && i < 150; i++ {
			nodes = append(nodes, fmt.Sprintf(`{"id":"C%d","body":"body %d"}`, i, i))
		}
		hasNext := start == 0
		fmt.Fprintf(w, `{"data":{"node":{"comments":{
			"nodes":[%s],
			"pageInfo":{"hasNextPage":%v,"endCursor":"cursor-100"}
		}}}}`, strings.Join(nodes, ","), hasNext)
	}))
	defer srv.Close()

	c := NewClient("tok", WithEndpoint(srv.URL))
	comments, err := c.ListComments(context.Background(), "D1")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}

	if len(comments) != 150 {
		t.Fatalf("got %d comments, want 150", len(comments))
	}
	if comments[0].ID != "C0" || comments[149].ID != "C149" {
		t.Errorf("comments out of order: first=%s last=%s", comments[0].ID, comments[149].ID)
	}
	if len(cursors) != 2 || cursors[1] != "cursor-100" {
		t.Errorf("cursor sequence = %v", cursors)
	}
}

func TestDiscussionReactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if strings.Contains(req.Query, "search(") {
			fmt.Fprint(w, `{"data":{"search":{"nodes":[{
				"id":"D1","number":3,"title":"[Masonry] iceland-2024",
				"comments":{
					"nodes":[{
						"id":"C1","body":"x",
						"reactionGroups":[
							{"content":"THUMBS_UP","viewerHasReacted":false,"users":{"totalCount":9}},
							{"content":"HEART","viewerHasReacted":true,"users":{"totalCount":4}}
						]
					}],
					"pageInfo":{"hasNextPage":true,"endCursor":"cur1"}
				}
			}]}}}`)
			return
		}
		// Continuation page by node id.
		fmt.Fprint(w, `{"data":{"node":{"comments":{
			"nodes":[{"id":"C2","body":"y","reactionGroups":[]}],
			"pageInfo":{"hasNextPage":false,"endCursor":""}
		}}}}`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithEndpoint(srv.URL))
	data, err := c.DiscussionReactions(context.Background(), "owner/repo", "[Masonry] iceland-2024")
	if err != nil {
		t.Fatalf("DiscussionReactions: %v", err)
	}

	if data.Number != 3 || data.DiscussionID != "D1" {
		t.Errorf("unexpected discussion meta: %+v", data)
	}
	if len(data.Comments) != 2 {
		t.Fatalf("got %d comments, want 2 (merged across pages)", len(data.Comments))
	}
	first := data.Comments[0]
	if first.HeartCount != 4 || !first.ViewerHasReacted {
		t.Errorf("heart group not extracted: %+v", first)
	}
	second := data.Comments[1]
	if second.HeartCount != 0 || second.ViewerHasReacted {
		t.Errorf("comment without heart group should be zero-valued: %+v", second)
	}
}

func TestDiscussionReactionsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"search":{"nodes":[]}}}`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithEndpoint(srv.URL))
	_, err := c.DiscussionReactions(context.Background(), "owner/repo", "[Masonry] missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMutationsSendExpectedVariables(t *testing.T) {
	var got recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		fmt.Fprint(w, `{"data":{
			"createDiscussion":{"discussion":{"id":"D9","number":12,"title":"t","body":"b","locked":false}},
			"addDiscussionComment":{"comment":{"id":"C9"}}
		}}`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithEndpoint(srv.URL))
	ctx := context.Background()

	d, err := c.CreateDiscussion(ctx, "R_1", "CAT_1", "title", "body")
	if err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	if d.ID != "D9" || d.Number != 12 {
		t.Errorf("created discussion = %+v", d)
	}
	if got.Variables["repoId"] != "R_1" || got.Variables["categoryId"] != "CAT_1" {
		t.Errorf("variables = %v", got.Variables)
	}

	id, err := c.AddComment(ctx, "D9", "hello")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if id != "C9" {
		t.Errorf("comment id = %q", id)
	}
	if got.Variables["id"] != "D9" || got.Variables["body"] != "hello" {
		t.Errorf("variables = %v", got.Variables)
	}

	if err := c.LockDiscussion(ctx, "D9"); err != nil {
		t.Fatalf("LockDiscussion: %v", err)
	}
	if !strings.Contains(got.Query, "lockLockable") {
		t.Errorf("expected lockLockable mutation, got:\n%s", got.Query)
	}
}
