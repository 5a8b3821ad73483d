package bluesky

// Wire shapes of the XRPC responses. Pointer fields distinguish absent from zero.

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	AccessJwt  string       `json:"accessJwt"`
	RefreshJwt string       `json:"refreshJwt"`
	Handle     string       `json:"handle"`
	DID        string       `json:"did"`
	DIDDoc     *didDocument `json:"didDoc"`
}

type didDocument struct {
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type postView struct {
	URI         *string     `json:"uri"`
	CID         *string     `json:"cid"`
	Author      *authorView `json:"author"`
	Record      *postRecord `json:"record"`
	IndexedAt   *string     `json:"indexedAt"`
	ReplyCount  *int64      `json:"replyCount"`
	RepostCount *int64      `json:"repostCount"`
	LikeCount   *int64      `json:"likeCount"`
	QuoteCount  *int64      `json:"quoteCount"`
}

type authorView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type postRecord struct {
	Text      *string    `json:"text"`
	CreatedAt *string    `json:"createdAt"`
	Langs     []string   `json:"langs"`
	Reply     *replyRefs `json:"reply"`
}

type replyRefs struct {
	Parent *strongRef `json:"parent"`
	Root   *strongRef `json:"root"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type profileView struct {
	DID            *string `json:"did"`
	Handle         *string `json:"handle"`
	DisplayName    *string `json:"displayName"`
	Description    *string `json:"description"`
	Avatar         *string `json:"avatar"`
	CreatedAt      *string `json:"createdAt"`
	IndexedAt      *string `json:"indexedAt"`
	PostsCount     *int64  `json:"postsCount"`
	FollowersCount *int64  `json:"followersCount"`
	FollowsCount   *int64  `json:"followsCount"`
}
