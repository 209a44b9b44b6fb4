package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
)

// pdsServiceID is the DID document service entry naming the account's PDS.
const pdsServiceID = "#atproto_pds"

// Authenticator performs the session XRPC calls: login with an app password,
// refresh with a refresh token and logout.
type Authenticator struct {
	client *Client
}

// NewAuthenticator creates an authenticator that sends its calls through client.
func NewAuthenticator(client *Client) *Authenticator {
	return &Authenticator{client: client}
}

// SessionResponse is the body returned by createSession and refreshSession.
type SessionResponse struct {
	AccessJwt  string       `json:"accessJwt"`
	RefreshJwt string       `json:"refreshJwt"`
	Handle     string       `json:"handle"`
	DID        string       `json:"did"`
	DIDDoc     *DIDDocument `json:"didDoc,omitempty"`
	Active     *bool        `json:"active,omitempty"`
	Status     string       `json:"status,omitempty"`
}

// DIDDocument is the subset of a DID document the client reads.
type DIDDocument struct {
	ID      string       `json:"id"`
	Service []DIDService `json:"service"`
}

// DIDService is a service entry of a DID document.
type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// PDSEndpoint returns the account's PDS URL from the DID document, or "" when
// the response did not include one.
func (r *SessionResponse) PDSEndpoint() string {
	if r.DIDDoc == nil {
		return ""
	}
	for _, svc := range r.DIDDoc.Service {
		if strings.HasSuffix(svc.ID, pdsServiceID) && svc.ServiceEndpoint != "" {
			return svc.ServiceEndpoint
		}
	}
	return ""
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// CreateSession logs in with a handle (or DID) and an app password.
func (a *Authenticator) CreateSession(ctx context.Context, identifier, password string) (*SessionResponse, error) {
	req, err := a.client.NewJSONRequest(ctx, NSIDCreateSession, createSessionRequest{
		Identifier: identifier,
		Password:   password,
	}, nil)
	if err != nil {
		return nil, err
	}

	var resp SessionResponse
	if err := a.client.Do(req, &resp); err != nil {
		return nil, asAuthError("login rejected", err)
	}
	if err := validateSessionResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshSession exchanges a refresh token for a new token pair.
func (a *Authenticator) RefreshSession(ctx context.Context, refreshJwt string) (*SessionResponse, error) {
	if refreshJwt == "" {
		return nil, &pkgerrs.AuthError{Message: "refresh token is missing"}
	}

	req, err := a.client.NewJSONRequest(ctx, NSIDRefreshSession, nil, &oauth2.Token{
		AccessToken: refreshJwt,
		TokenType:   "Bearer",
	})
	if err != nil {
		return nil, err
	}

	var resp SessionResponse
	if err := a.client.Do(req, &resp); err != nil {
		return nil, asAuthError("refresh rejected", err)
	}
	if err := validateSessionResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSession revokes the refresh token server-side.
func (a *Authenticator) DeleteSession(ctx context.Context, refreshJwt string) error {
	req, err := a.client.NewJSONRequest(ctx, NSIDDeleteSession, nil, &oauth2.Token{
		AccessToken: refreshJwt,
		TokenType:   "Bearer",
	})
	if err != nil {
		return err
	}
	return a.client.Do(req, nil)
}

// asAuthError converts an API rejection into an AuthError. Transport and
// parse failures are returned unchanged.
func asAuthError(message string, err error) error {
	var apiErr *pkgerrs.APIError
	if errors.As(err, &apiErr) {
		return &pkgerrs.AuthError{
			StatusCode: apiErr.StatusCode,
			Message:    message,
			Body:       apiErr.Body,
			Err:        apiErr,
		}
	}
	return err
}

func validateSessionResponse(resp *SessionResponse) error {
	var missing []string
	if resp.AccessJwt == "" {
		missing = append(missing, "accessJwt")
	}
	if resp.RefreshJwt == "" {
		missing = append(missing, "refreshJwt")
	}
	if resp.DID == "" {
		missing = append(missing, "did")
	}
	if len(missing) > 0 {
		return &pkgerrs.AuthError{Err: fmt.Errorf("session response missing %s", strings.Join(missing, ", "))}
	}
	return nil
}
