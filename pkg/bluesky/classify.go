package bluesky

import (
	"encoding/json"
	"fmt"
	"strings"

	errs "bskycrawler/pkg/errors"
)

// SearchPage is a classified searchPosts response
type SearchPage struct {
	// Posts holds every entry that decoded into a complete record
	Posts []PostRecord
	// Authors lists distinct author DIDs in first-seen order, including authors of skipped entries
	Authors []string
	// Cursor continues the result set. Empty means last page.
	Cursor string
	// NoPosts is set when the response had no posts key at all
	NoPosts bool
	// Skipped holds one MalformedResponseError per entry that could not become a record
	Skipped []error
	// CursorErr is set when the cursor was present but not a string. Cursor is empty then.
	CursorErr error
}

// ClassifySearchResponse decodes a searchPosts body.
// A body without a posts key is an empty, valid page with no cursor.
// Only a body that is not a JSON object, or whose posts value is not an array, is an error.
func ClassifySearchResponse(body []byte) (*SearchPage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, errs.NewMalformedResponseError("search response is not a JSON object", err)
	}

	rawPosts, ok := top["posts"]
	if !ok || isNull(rawPosts) {
		return &SearchPage{NoPosts: true}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawPosts, &entries); err != nil {
		return nil, errs.NewMalformedResponseError("search response posts is not an array", err)
	}

	page := &SearchPage{
		Posts: make([]PostRecord, 0, len(entries)),
	}

	seen := make(map[string]struct{}, len(entries))
	for i, raw := range entries {
		var view postView
		if err := json.Unmarshal(raw, &view); err != nil {
			page.Skipped = append(page.Skipped, errs.NewMalformedResponseError(fmt.Sprintf("post %d", i), err))
			continue
		}

		if view.Author != nil && view.Author.DID != "" {
			if _, dup := seen[view.Author.DID]; !dup {
				seen[view.Author.DID] = struct{}{}
				page.Authors = append(page.Authors, view.Author.DID)
			}
		}

		post, err := view.toRecord()
		if err != nil {
			page.Skipped = append(page.Skipped, errs.NewMalformedResponseError(fmt.Sprintf("post %d", i), err))
			continue
		}
		page.Posts = append(page.Posts, post)
	}

	if rawCursor, ok := top["cursor"]; ok && !isNull(rawCursor) {
		if err := json.Unmarshal(rawCursor, &page.Cursor); err != nil {
			page.Cursor = ""
			page.CursorErr = errs.NewMalformedResponseError("search response cursor is not a string", err)
		}
	}

	return page, nil
}

// ClassifyProfileResponse decodes a getProfile body.
// did, handle, createdAt and the three counts are required; the rest may be absent.
func ClassifyProfileResponse(body []byte) (*ProfileRecord, error) {
	var view profileView
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, errs.NewMalformedResponseError("profile response is not a JSON object", err)
	}

	var missing []string
	if view.DID == nil || *view.DID == "" {
		missing = append(missing, "did")
	}
	if view.Handle == nil {
		missing = append(missing, "handle")
	}
	if view.CreatedAt == nil {
		missing = append(missing, "createdAt")
	}
	if view.PostsCount == nil {
		missing = append(missing, "postsCount")
	}
	if view.FollowersCount == nil {
		missing = append(missing, "followersCount")
	}
	if view.FollowsCount == nil {
		missing = append(missing, "followsCount")
	}
	if len(missing) > 0 {
		return nil, errs.NewMalformedResponseError("profile response is missing "+strings.Join(missing, ", "), nil)
	}

	return &ProfileRecord{
		DID:            *view.DID,
		CreatedAt:      *view.CreatedAt,
		Avatar:         view.Avatar,
		Description:    view.Description,
		DisplayName:    view.DisplayName,
		Handle:         *view.Handle,
		IndexedAt:      view.IndexedAt,
		PostsCount:     *view.PostsCount,
		FollowersCount: *view.FollowersCount,
		FollowsCount:   *view.FollowsCount,
	}, nil
}

func (v *postView) toRecord() (PostRecord, error) {
	var missing []string
	if v.URI == nil {
		missing = append(missing, "uri")
	}
	if v.CID == nil {
		missing = append(missing, "cid")
	}
	if v.Author == nil || v.Author.DID == "" {
		missing = append(missing, "author.did")
	}
	if v.Record == nil {
		missing = append(missing, "record")
	} else {
		if v.Record.CreatedAt == nil {
			missing = append(missing, "record.createdAt")
		}
		if v.Record.Text == nil {
			missing = append(missing, "record.text")
		}
	}
	if v.IndexedAt == nil {
		missing = append(missing, "indexedAt")
	}
	if v.ReplyCount == nil || v.RepostCount == nil || v.LikeCount == nil || v.QuoteCount == nil {
		missing = append(missing, "counts")
	}
	if len(missing) > 0 {
		return PostRecord{}, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	post := PostRecord{
		URI:         *v.URI,
		CID:         *v.CID,
		AuthorDID:   v.Author.DID,
		CreatedAt:   *v.Record.CreatedAt,
		IndexedAt:   *v.IndexedAt,
		ReplyCount:  *v.ReplyCount,
		RepostCount: *v.RepostCount,
		LikeCount:   *v.LikeCount,
		QuoteCount:  *v.QuoteCount,
		Text:        *v.Record.Text,
		Langs:       strings.Join(v.Record.Langs, LangSeparator),
	}
	if reply := v.Record.Reply; reply != nil {
		if reply.Parent != nil && reply.Parent.URI != "" {
			parent := reply.Parent.URI
			post.ReplyParent = &parent
		}
		if reply.Root != nil && reply.Root.URI != "" {
			root := reply.Root.URI
			post.ReplyRoot = &root
		}
	}

	return post, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
