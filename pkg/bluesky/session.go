package bluesky

import (
	"context"
	"errors"
	"fmt"

	errs "bskycrawler/pkg/errors"
)

// Session is an authenticated account session. It is immutable once created.
type Session struct {
	serviceEndpoint string
	did             string
	accessToken     string
	refreshToken    string
	handle          string
}

// NewSession builds a Session from already-known values
func NewSession(serviceEndpoint, did, accessToken, refreshToken, handle string) *Session {
	return &Session{
		serviceEndpoint: serviceEndpoint,
		did:             did,
		accessToken:     accessToken,
		refreshToken:    refreshToken,
		handle:          handle,
	}
}

// ServiceEndpoint is the PDS base URL that serves this account's API traffic
func (s *Session) ServiceEndpoint() string { return s.serviceEndpoint }

// DID is the resolved actor identity
func (s *Session) DID() string { return s.did }

// Handle is the account handle
func (s *Session) Handle() string { return s.handle }

// AccessToken is the bearer credential for API requests
func (s *Session) AccessToken() string { return s.accessToken }

// RefreshToken authorizes deleteSession
func (s *Session) RefreshToken() string { return s.refreshToken }

// String never includes tokens
func (s *Session) String() string {
	return fmt.Sprintf("session(%s %s @ %s)", s.handle, s.did, s.serviceEndpoint)
}

// CreateSession authenticates against the identity service.
// A non-2xx response is an authentication error carrying the status and body.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	endpoint, err := xrpcURL(c.serviceURL, CreateSessionPath)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("creating session", map[string]interface{}{
		"identifier": identifier,
		"service":    c.serviceURL,
	})

	var resp createSessionResponse
	err = c.post(ctx, endpoint.String(), "", createSessionRequest{
		Identifier: identifier,
		Password:   password,
	}, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, errs.NewAuthenticationError(se.status, se.body)
		}
		return nil, err
	}

	session, err := resp.toSession()
	if err != nil {
		return nil, err
	}

	c.logger.InfoWithFields("session created", map[string]interface{}{
		"handle":  session.handle,
		"did":     session.did,
		"service": session.serviceEndpoint,
	})

	return session, nil
}

// DestroySession invalidates the session on its PDS using the refresh token
func (c *Client) DestroySession(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}

	endpoint, err := xrpcURL(s.serviceEndpoint, DeleteSessionPath)
	if err != nil {
		return errs.NewSessionTeardownError(err)
	}

	if err := c.post(ctx, endpoint.String(), s.refreshToken, nil, nil); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			err = errs.NewTransportError(se.status, se.body, nil)
		}
		return errs.NewSessionTeardownError(err)
	}

	c.logger.DebugWithFields("session deleted", map[string]interface{}{
		"handle": s.handle,
	})

	return nil
}

func (r *createSessionResponse) toSession() (*Session, error) {
	if r.DIDDoc == nil || len(r.DIDDoc.Service) == 0 {
		return nil, errs.NewMalformedResponseError("createSession response has no service endpoint", nil)
	}
	if r.AccessJwt == "" || r.RefreshJwt == "" {
		return nil, errs.NewMalformedResponseError("createSession response is missing tokens", nil)
	}

	endpoint := r.DIDDoc.Service[0].ServiceEndpoint
	if _, err := xrpcURL(endpoint, SearchPostsPath); err != nil {
		return nil, err
	}

	did := r.DIDDoc.ID
	if did == "" {
		did = r.DID
	}

	return NewSession(endpoint, did, r.AccessJwt, r.RefreshJwt, r.Handle), nil
}
