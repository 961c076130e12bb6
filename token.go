package data_portal

import "strings"

// A TokenSource supplies the current bearer token for outgoing requests.
// Returning "" means requests are sent unauthenticated. Token rotation takes
// effect on the next request; in-flight requests keep the token they started
// with.
type TokenSource interface {
	Token() string
}

// TokenSourceFunc adapts a plain function to the TokenSource interface.
type TokenSourceFunc func() string

func (f TokenSourceFunc) Token() string {
	return f()
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token() string {
	return string(t)
}

// NormalizeToken strips the legacy quoting artifact from a stored token. An
// older client serialized tokens as Python byte reprs, so persisted values can
// look like `b'<value>'`; the backend only ever accepts `<value>`. Any token
// not wrapped that way is returned unchanged.
func NormalizeToken(token string) string {
	if strings.HasPrefix(token, "b'") && strings.HasSuffix(token, "'") && len(token) > 3 {
		return token[2 : len(token)-1]
	}
	return token
}
