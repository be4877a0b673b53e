package api

import (
	"fmt"
	"net/http"
	"strings"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/model"
)

// allowList resolves bearer tokens to operator names for the query and
// admin surfaces. Ingestion never consults it.
type allowList struct {
	byToken map[string]string
}

// newAllowList fails closed: an empty list would otherwise leave the
// query surface open, so it is a configuration error, not a default.
func newAllowList(tokens []config.AccessToken) (*allowList, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: api.access_tokens must not be empty", model.ErrConfiguration)
	}
	byToken := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.Token == "" {
			return nil, fmt.Errorf("%w: access token for %q is empty", model.ErrConfiguration, t.Name)
		}
		byToken[t.Token] = t.Name
	}
	return &allowList{byToken: byToken}, nil
}

// caller resolves the request's bearer token to a caller name.
func (a *allowList) caller(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", model.ErrUnauthorized
	}
	name, ok := a.byToken[token]
	if !ok {
		return "", model.ErrForbidden
	}
	return name, nil
}
