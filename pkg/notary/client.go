// Package notary implements the Notary v1 HTTP client (C5): fetching
// TUF role documents over HTTPS, including bearer-token auth
// negotiation, grounded on
// original_source/connaisseur/validators/notrayv1/notary.py.
package notary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/logging"
	"github.com/sse-secure-systems/connaisseur/pkg/tuf"
)

// Client talks to a single Notary v1 (Docker Content Trust) server.
type Client struct {
	Name     string
	Host     string
	IsACR    bool
	Username string
	Password string

	httpClient *http.Client
}

// NewClient constructs a Client. httpClient may be nil, in which case
// a retryablehttp-backed client with sane defaults is used.
func NewClient(name, host string, isACR bool, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 2
		rc.Logger = nil
		httpClient = rc.StandardClient()
	}
	return &Client{Name: name, Host: host, IsACR: isACR, Username: username, Password: password, httpClient: httpClient}
}

// Healthy reports whether the notary server is reachable. ACR-flavored
// instances don't expose a health endpoint and are reported healthy
// unconditionally, per original_source's Notary.healthy property.
func (c *Client) Healthy(ctx context.Context) bool {
	if c.IsACR {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("https://%s/_notary_server/health", c.Host), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetTrustData fetches the TUF document for role belonging to image.
// It returns an apperr-kinded error of NotFound on HTTP 404,
// Unreachable if the server is not healthy or the request otherwise
// fails.
func (c *Client) GetTrustData(ctx context.Context, img image.Ref, role tuf.Role) ([]byte, error) {
	return c.getTrustData(ctx, img, role, "")
}

func (c *Client) getTrustData(ctx context.Context, img image.Ref, role tuf.Role, token string) ([]byte, error) {
	if !c.Healthy(ctx) {
		return nil, apperr.New(apperr.Unreachable, "unable to reach notary host %s", c.Name)
	}

	url := fmt.Sprintf("https://%s/v2/%s/%s/_trust/tuf/%s.json", c.Host, img.Registry(), img.RepoPath(), role)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unreachable, err, "building request to %s", c.Name)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unreachable, err, "requesting trust data from %s", c.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && token == "" {
		if wwwAuth := resp.Header.Get("WWW-Authenticate"); wwwAuth != "" {
			logging.FromContext(ctx).Debugf("notary %s demanded bearer auth for %s", c.Name, role)
			newToken, err := c.negotiateToken(ctx, wwwAuth)
			if err != nil {
				return nil, err
			}
			return c.getTrustData(ctx, img, role, newToken)
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.New(apperr.NotFound, "unable to get %s trust data from %s", role, c.Name)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.Unreachable, "notary %s returned status %d for %s", c.Name, resp.StatusCode, role)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unreachable, err, "reading trust data from %s", c.Name)
	}
	return body, nil
}

// GetDelegationTrustData is GetTrustData but suppresses all errors to
// nil, since an undeclared-yet-unsigned delegation is expected and
// permitted (spec.md section 4.5).
func (c *Client) GetDelegationTrustData(ctx context.Context, img image.Ref, role tuf.Role) []byte {
	data, err := c.GetTrustData(ctx, img, role)
	if err != nil {
		logging.FromContext(ctx).Debugf("delegation %s not available for %s: %v", role, img, err)
		return nil
	}
	return data
}

// negotiateToken implements the 401 -> parse WWW-Authenticate ->
// basic-auth GET to the realm -> token extraction flow.
func (c *Client) negotiateToken(ctx context.Context, header string) (string, error) {
	ch, err := parseBearerChallenge(header)
	if err != nil {
		return "", err
	}
	authURL, err := ch.authURL()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.Unreachable, err, "building auth request")
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.Unreachable, err, "requesting auth token")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", apperr.New(apperr.NotFound, "unable to get authentication token from %s", authURL)
	}
	if resp.StatusCode >= 400 {
		return "", apperr.New(apperr.Unreachable, "auth endpoint returned status %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.Wrap(apperr.InvalidFormat, err, "decoding auth response")
	}

	token, err := extractToken(body, c.IsACR)
	if err != nil {
		return "", err
	}
	if err := validateToken(token); err != nil {
		return "", err
	}
	return token, nil
}
