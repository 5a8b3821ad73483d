package bluesky

// LangSeparator joins a post's language codes
const LangSeparator = "; "

// PostRecord is one search-result post
type PostRecord struct {
	URI         string  `json:"uri"`
	CID         string  `json:"cid"`
	AuthorDID   string  `json:"author_did"`
	CreatedAt   string  `json:"created"`
	IndexedAt   string  `json:"indexed"`
	ReplyCount  int64   `json:"reply_count"`
	RepostCount int64   `json:"repost_count"`
	LikeCount   int64   `json:"like_count"`
	QuoteCount  int64   `json:"quote_count"`
	Text        string  `json:"text"`
	Langs       string  `json:"langs"`
	ReplyParent *string `json:"reply_parent"`
	ReplyRoot   *string `json:"reply_root"`
}

// IsReply reports whether the post answers another post
func (p PostRecord) IsReply() bool {
	return p.ReplyParent != nil
}

// ProfileRecord is one fetched actor profile
type ProfileRecord struct {
	DID            string  `json:"did"`
	CreatedAt      string  `json:"created"`
	Avatar         *string `json:"avatar"`
	Description    *string `json:"description"`
	DisplayName    *string `json:"display_name"`
	Handle         string  `json:"handle"`
	IndexedAt      *string `json:"indexed"`
	PostsCount     int64   `json:"posts_count"`
	FollowersCount int64   `json:"followers_count"`
	FollowsCount   int64   `json:"follows_count"`
}
