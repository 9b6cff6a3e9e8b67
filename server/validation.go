package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// loopbackHosts may use plain http for redirect URIs even in secure mode
// (RFC 8252 §7.3, native apps).
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// validateRedirectURI checks a single redirect URI: absolute, no fragment,
// no wildcards, and HTTPS outside loopback unless insecure URIs are allowed.
func (s *Server) validateRedirectURI(rawURI string) error {
	if rawURI == "" {
		return fmt.Errorf("%w: empty redirect URI", ErrRedirectURIRejected)
	}
	if strings.Contains(rawURI, "*") {
		return fmt.Errorf("%w: wildcard in redirect URI %q", ErrRedirectURIRejected, rawURI)
	}

	u, err := url.Parse(rawURI)
	if err != nil {
		return fmt.Errorf("%w: unparseable redirect URI %q", ErrRedirectURIRejected, rawURI)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%w: redirect URI must be absolute: %q", ErrRedirectURIRejected, rawURI)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%w: fragment not allowed in redirect URI %q", ErrRedirectURIRejected, rawURI)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if s.Config.AllowInsecureRedirectURIs || loopbackHosts[u.Hostname()] {
			return nil
		}
		return fmt.Errorf("%w: plain-http redirect URI %q requires a loopback host", ErrRedirectURIRejected, rawURI)
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrRedirectURIRejected, u.Scheme)
	}
}

// validateRedirectURIs checks a registration's full redirect URI set.
func (s *Server) validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("%w: at least one redirect URI is required", ErrRedirectURIRejected)
	}
	for _, uri := range uris {
		if err := s.validateRedirectURI(uri); err != nil {
			return err
		}
	}
	return nil
}

// redirectURIRegistered reports whether uri is in the client's registered
// set. Matching is exact string equality, never prefix.
func redirectURIRegistered(registered []string, uri string) bool {
	for _, r := range registered {
		if r == uri {
			return true
		}
	}
	return false
}

// validateCodeChallenge checks the PKCE parameters of an authorization
// request.
func (s *Server) validateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		if s.Config.RequirePKCE {
			return fmt.Errorf("code_challenge is required")
		}
		return nil
	}
	if method == "" {
		return fmt.Errorf("code_challenge_method is required when code_challenge is provided")
	}

	switch method {
	case "S256":
		return nil
	case "plain":
		if s.Config.AllowPKCEPlain {
			return nil
		}
		return fmt.Errorf("'plain' code_challenge_method is not allowed")
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
}

// verifyCodeVerifier checks a token request's code_verifier against the
// challenge captured at authorization time (RFC 7636 §4.6).
func verifyCodeVerifier(verifier, challenge, method string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	var computed string
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case "plain":
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// validateScope checks the requested scope against the supported set.
// An empty supported set allows everything.
func (s *Server) validateScope(scope string) error {
	if scope == "" || len(s.Config.SupportedScopes) == 0 {
		return nil
	}

	supported := make(map[string]bool, len(s.Config.SupportedScopes))
	for _, sc := range s.Config.SupportedScopes {
		supported[sc] = true
	}
	for _, requested := range strings.Fields(scope) {
		if !supported[requested] {
			return fmt.Errorf("unsupported scope %q", requested)
		}
	}
	return nil
}
