package client

import (
	"fmt"
	"net/http"
)

// Credential is the static secret used to authorize every partner API call.
type Credential struct {
	// Token is the API-Key or OAuth token.
	Token string

	// UseAPIKey selects "Api-Key" authorization; false selects OAuth.
	UseAPIKey bool

	// ClientID is the OAuth application id (OAuth mode only).
	ClientID string
}

// Headers builds the authorization and content headers for a request.
func (c Credential) Headers() http.Header {
	h := make(http.Header, 2)
	if c.UseAPIKey {
		h.Set("Authorization", "Api-Key "+c.Token)
	} else {
		h.Set("Authorization", fmt.Sprintf(`OAuth oauth_token="%s", oauth_client_id="%s"`, c.Token, c.ClientID))
	}
	h.Set("Content-Type", "application/json")
	return h
}

// Mode returns the authorization scheme name, for logs.
func (c Credential) Mode() string {
	if c.UseAPIKey {
		return "api-key"
	}
	return "oauth"
}
