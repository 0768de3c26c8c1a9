// Package reqparse validates the structural pieces of a request head that
// internal/stream already split out: method, version, and target syntax.
package reqparse

import (
	"regexp"

	"github.com/WhileEndless/syncwsgi/pkg/errors"
)

// ValidMethods is the closed set of methods this server accepts.
var ValidMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"OPTIONS": true, "TRACE": true, "CONNECT": true,
}

// ValidVersions is the closed set of accepted request versions.
var ValidVersions = map[string]bool{
	"HTTP/1.0": true, "HTTP/1.1": true,
}

// subURLRE matches an HTTP sub-URL as it may appear in a request line: a
// leading slash followed by a restricted set of printable ASCII characters.
var subURLRE = regexp.MustCompile(`\A/[-A-Za-z0-9_./,~!@$*()\[\]';:?&%+=]*\z`)

// ValidateMethod rejects any method outside the closed set.
func ValidateMethod(method string) error {
	if !ValidMethods[method] {
		return errors.NewBadMethodFault(method)
	}
	return nil
}

// ValidateVersion rejects any version other than HTTP/1.0 or HTTP/1.1.
func ValidateVersion(version string) error {
	if !ValidVersions[version] {
		return errors.NewBadVersionFault(version)
	}
	return nil
}

// ValidateTarget rejects a request target that doesn't match the sub-URL
// grammar (this also rejects absolute-URI proxy targets, by design: proxy
// semantics are a non-goal).
func ValidateTarget(target string) error {
	if !subURLRE.MatchString(target) {
		return errors.NewBadURIFault(target)
	}
	return nil
}

// SplitTarget splits a validated target into its path and query components.
func SplitTarget(target string) (path, query string) {
	for i := 0; i < len(target); i++ {
		if target[i] == '?' {
			return target[:i], target[i+1:]
		}
	}
	return target, ""
}
