package notary

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_=-]+\.[A-Za-z0-9_=-]+\.?[A-Za-z0-9_.+/=-]*$`)

// challenge is a parsed "WWW-Authenticate: Bearer ..." header.
type challenge struct {
	realm   string
	service string
	scope   string
}

// parseBearerChallenge parses header, requiring scheme Bearer and a
// realm whose protocol is https, in the style of
// original_source/connaisseur/validators/notrayv1/notary.py's
// __parse_auth.
func parseBearerChallenge(header string) (challenge, error) {
	if !strings.HasPrefix(strings.TrimSpace(header), "Bearer ") {
		return challenge{}, apperr.New(apperr.UnknownType, "unsupported authentication type in header %q", header)
	}
	params := map[string]string{}
	paramRe := regexp.MustCompile(`(\w+)="?([^",]+)"?`)
	for _, m := range paramRe.FindAllStringSubmatch(header, -1) {
		params[m[1]] = m[2]
	}
	realm, ok := params["realm"]
	if !ok {
		return challenge{}, apperr.New(apperr.NotFound, "unable to find authentication realm in auth header")
	}
	if !strings.HasPrefix(realm, "https://") {
		return challenge{}, apperr.New(apperr.InvalidFormat, "authentication through insecure channel is prohibited")
	}
	return challenge{realm: realm, service: params["service"], scope: params["scope"]}, nil
}

// authURL builds the token-request URL for c, guarding against path
// traversal per spec.md section 9: normalize, then assert the
// resulting URL does not smuggle ".." or a duplicated "//" past the
// realm host.
func (c challenge) authURL() (string, error) {
	u, err := url.Parse(c.realm)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidFormat, err, "parsing auth realm")
	}
	q := u.Query()
	if c.service != "" {
		q.Set("service", c.service)
	}
	if c.scope != "" {
		q.Set("scope", c.scope)
	}
	u.RawQuery = q.Encode()
	result := u.String()

	if strings.Contains(result, "..") || strings.Count(strings.TrimPrefix(result, "https://"), "//") > 0 {
		return "", apperr.New(apperr.PathTraversal, "potential path traversal in authentication url %q", result)
	}
	if !strings.HasPrefix(result, "https://") {
		return "", apperr.New(apperr.InvalidFormat, "authentication through insecure channel is prohibited")
	}
	return result, nil
}

// validateToken checks token against the bearer token grammar spec.md
// section 4.5 requires.
func validateToken(token string) error {
	if !tokenRe.MatchString(token) {
		return apperr.New(apperr.InvalidFormat, "authentication token has an invalid format")
	}
	return nil
}

func extractToken(body map[string]interface{}, isACR bool) (string, error) {
	field := "token"
	if isACR {
		field = "access_token"
	}
	v, ok := body[field]
	if !ok {
		// Fall back to the other field name; some notary deployments
		// return "token" even when configured as ACR-flavored.
		alt := "access_token"
		if isACR {
			alt = "token"
		}
		v, ok = body[alt]
	}
	token, isStr := v.(string)
	if !ok || !isStr {
		return "", apperr.New(apperr.NotFound, "unable to retrieve authentication token from response")
	}
	return token, nil
}
