package bluesky

import (
	"fmt"
	"net/url"
	"strings"

	errs "bskycrawler/pkg/errors"
)

const (
	// CreateSessionPath is served by the identity service
	CreateSessionPath = "/xrpc/com.atproto.server.createSession"

	// DeleteSessionPath is served by the session's PDS
	DeleteSessionPath = "/xrpc/com.atproto.server.deleteSession"

	// SearchPostsPath returns {posts, cursor?}
	SearchPostsPath = "/xrpc/app.bsky.feed.searchPosts"

	// GetProfilePath returns a single profile view
	GetProfilePath = "/xrpc/app.bsky.actor.getProfile"
)

// BuildSearchURL constructs the searchPosts URL for query, continuing from cursor when it is non-empty
func BuildSearchURL(endpoint, query, cursor string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", errs.NewConfigurationError("search query is empty", nil)
	}

	u, err := xrpcURL(endpoint, SearchPostsPath)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("q", query)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	u.RawQuery = encodeQuery(params)

	return u.String(), nil
}

// ValidateEndpoint checks that endpoint can serve as an XRPC base URL.
// It fails with a ConfigurationError exactly when the URL builders would.
func ValidateEndpoint(endpoint string) error {
	_, err := xrpcURL(endpoint, "")
	return err
}

// BuildProfileURL constructs the getProfile URL for an actor DID
func BuildProfileURL(endpoint, did string) (string, error) {
	if did == "" {
		return "", errs.NewConfigurationError("profile actor is empty", nil)
	}

	u, err := xrpcURL(endpoint, GetProfilePath)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("actor", did)
	u.RawQuery = encodeQuery(params)

	return u.String(), nil
}

// WithCursor sets the cursor parameter on an existing request URL, keeping every other parameter
func WithCursor(rawURL, cursor string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.NewConfigurationError(fmt.Sprintf("invalid request URL %q", rawURL), err)
	}

	params := u.Query()
	if cursor == "" {
		params.Del("cursor")
	} else {
		params.Set("cursor", cursor)
	}
	u.RawQuery = encodeQuery(params)

	return u.String(), nil
}

// QueryParam returns one query parameter of rawURL, or "" when absent or unparsable
func QueryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// xrpcURL joins an XRPC method path onto a service endpoint
func xrpcURL(endpoint, path string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errs.NewConfigurationError(fmt.Sprintf("invalid service endpoint %q", endpoint), err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.NewConfigurationError(fmt.Sprintf("invalid service endpoint %q: must be an absolute http(s) URL", endpoint), nil)
	}

	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u, nil
}

// encodeQuery percent-encodes spaces as %20 rather than +
func encodeQuery(v url.Values) string {
	return strings.ReplaceAll(v.Encode(), "+", "%20")
}
