package github

// Discussion is the remote mirror of one gallery page.
type Discussion struct {
	ID     string
	Number int
	Title  string
	Body   string
	Locked bool
}

// Comment is one discussion comment as seen by the reconciler.
type Comment struct {
	ID   string
	Body string
}

// ReactionComment is one discussion comment as seen by the reaction client,
// carrying the heart aggregate and the viewer's own state.
type ReactionComment struct {
	ID               string
	Body             string
	HeartCount       int
	ViewerHasReacted bool
}

// DiscussionReactions is the live reaction state of one discussion.
type DiscussionReactions struct {
	DiscussionID string
	Number       int
	Comments     []ReactionComment
}
