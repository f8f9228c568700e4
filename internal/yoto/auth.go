package yoto

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// oauthScopes requested from the login provider. offline_access yields the
// refresh token that keeps scheduled refreshes working unattended.
var oauthScopes = []string{"offline_access"}

// OAuthConfig builds the oauth2 configuration for the platform's login
// provider. Yoto uses a public client (no secret) with an audience parameter.
func (c *Client) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		Scopes:      oauthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.LoginBase + "/authorize",
			TokenURL: c.cfg.LoginBase + "/oauth/token",
		},
	}
}

// AuthURL returns the browser URL that starts the authorization code flow.
func (c *Client) AuthURL(state string) string {
	return c.OAuthConfig().AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", c.cfg.APIBase))
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.OAuthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

// RefreshAccessToken performs one refresh grant. Refresh tokens rotate: the
// returned token carries the replacement refresh token and both must be
// persisted together. A rejected refresh token maps to ErrAuthExpired.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.OAuthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusUnauthorized ||
				retrieveErr.Response.StatusCode == http.StatusForbidden ||
				retrieveErr.Response.StatusCode == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: refresh rejected", ErrAuthExpired)
		}
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}
