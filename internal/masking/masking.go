// Package masking redacts secrets from strings that end up in logs or
// persisted tool results, grounded on the teacher's pkg/masking (a
// code-masker + regex-pattern pipeline for Kubernetes Secret manifests and
// MCP tool output). Generalized here to the two places this runtime can
// leak a credential: a user-supplied PostGIS connection URI surfacing in an
// error message, and provider API keys/tokens surfacing in log fields.
package masking

import "regexp"

// Masker applies structural, context-sensitive redaction to a string,
// analogous to the teacher's KubernetesSecretMasker.
type Masker interface {
	// Name identifies this masker.
	Name() string
	// AppliesTo is a cheap pre-check before the (potentially costlier) Mask call.
	AppliesTo(s string) bool
	// Mask returns s with sensitive substrings redacted. Must be defensive:
	// return the original string on any parse/processing error.
	Mask(s string) string
}

// Redacted is the placeholder substituted for a masked credential.
const Redacted = "[REDACTED]"

var (
	postgresURIPattern = regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/@\s]+):[^@/\s]+@`)
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._-]{10,}`)
	apiKeyParamPattern = regexp.MustCompile(`(?i)([?&](?:api[_-]?key|token|secret)=)[^&\s]+`)
)

// connectionURIMasker redacts the password component of postgres:// URIs,
// mirroring spec.md §4.2's "never log the raw DSN" requirement for
// user-supplied PostGIS connections.
type connectionURIMasker struct{}

func (connectionURIMasker) Name() string { return "connection_uri" }

func (connectionURIMasker) AppliesTo(s string) bool {
	return postgresURIPattern.MatchString(s)
}

func (connectionURIMasker) Mask(s string) string {
	return postgresURIPattern.ReplaceAllString(s, "${1}:"+Redacted+"@")
}

// credentialMasker redacts bearer tokens and ?api_key=/?token=/?secret=
// query parameters, the shapes the QGIS worker client and OSM ingester
// pass around.
type credentialMasker struct{}

func (credentialMasker) Name() string { return "credential" }

func (credentialMasker) AppliesTo(s string) bool {
	return bearerTokenPattern.MatchString(s) || apiKeyParamPattern.MatchString(s)
}

func (credentialMasker) Mask(s string) string {
	s = bearerTokenPattern.ReplaceAllString(s, "${1}"+Redacted)
	s = apiKeyParamPattern.ReplaceAllString(s, "${1}"+Redacted)
	return s
}

var maskers = []Masker{connectionURIMasker{}, credentialMasker{}}

// Mask runs every registered masker over s and returns the fully redacted
// result. Safe to call on strings with nothing to redact (returned as-is).
func Mask(s string) string {
	for _, m := range maskers {
		if m.AppliesTo(s) {
			s = m.Mask(s)
		}
	}
	return s
}
