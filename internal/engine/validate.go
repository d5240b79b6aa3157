package engine

import (
	"regexp"
	"strings"

	"querygate/internal/domain"
)

// dangerousPattern flags potentially destructive SQL. The check is a textual
// heuristic evaluated against raw query text; false positives and negatives
// are acceptable because matches only produce advisory warnings for the
// approver, never a rejection.
type dangerousPattern struct {
	pattern     *regexp.Regexp
	unless      *regexp.Regexp // suppresses the match when it also matches
	description string
	severity    string
}

var relationalPatterns = []dangerousPattern{
	{
		pattern:     regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema|index|view)\b`),
		description: "DROP statement",
		severity:    domain.SeverityHigh,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\btruncate\b`),
		description: "TRUNCATE statement",
		severity:    domain.SeverityHigh,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bdelete\s+from\b`),
		unless:      regexp.MustCompile(`(?i)\bwhere\b`),
		description: "DELETE without WHERE clause",
		severity:    domain.SeverityHigh,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bupdate\s+\S+\s+set\b`),
		unless:      regexp.MustCompile(`(?i)\bwhere\b`),
		description: "UPDATE without WHERE clause",
		severity:    domain.SeverityHigh,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\balter\s+(table|database|schema|user|role)\b`),
		description: "ALTER statement",
		severity:    domain.SeverityWarning,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(grant|revoke)\b`),
		description: "GRANT/REVOKE statement",
		severity:    domain.SeverityWarning,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bcreate\s+(user|role)\b`),
		description: "CREATE USER/ROLE statement",
		severity:    domain.SeverityWarning,
	},
}

// destructiveDocumentMethods are method names whose textual presence in a
// document operation is flagged for the approver.
var destructiveDocumentMethods = []string{
	"drop",
	"dropDatabase",
	"dropIndexes",
	"dropIndex",
	"renameCollection",
	"convertToCapped",
}

// checkQueryText applies the shared empty/length validation. It is the first
// step of every driver's validate path and runs before any connection work.
func checkQueryText(text string, maxLength int) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrValidation("query text is required")
	}
	if len(text) > maxLength {
		return domain.ErrValidation("query text exceeds maximum length of %d bytes (got %d)", maxLength, len(text))
	}
	return nil
}

// relationalWarnings evaluates the dangerous-pattern table against raw SQL.
func relationalWarnings(text string) []domain.Warning {
	var warnings []domain.Warning
	for _, p := range relationalPatterns {
		if !p.pattern.MatchString(text) {
			continue
		}
		if p.unless != nil && p.unless.MatchString(text) {
			continue
		}
		warnings = append(warnings, domain.Warning{
			Kind:        domain.WarningDangerousPattern,
			Description: p.description,
			Severity:    p.severity,
		})
	}
	return warnings
}

// documentWarnings flags destructive method calls that appear anywhere in
// the operation text. The warning names the method token as written, so
// db.users.dropCollection() is reported as "dropCollection" even though the
// table entry is the shorter "drop".
func documentWarnings(text string) []domain.Warning {
	var warnings []domain.Warning
	seen := make(map[string]bool)
	for _, method := range destructiveDocumentMethods {
		if !strings.Contains(text, method) {
			continue
		}
		name := method
		if m := destructiveCallPatterns[method].FindStringSubmatch(text); m != nil {
			name = m[1]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		warnings = append(warnings, domain.Warning{
			Kind:        domain.WarningDangerousPattern,
			Description: "destructive method call: " + name,
			Severity:    domain.SeverityHigh,
		})
	}
	return warnings
}

// destructiveCallPatterns extracts the full method token around each
// destructive name, e.g. "dropCollection" for the "drop" entry.
var destructiveCallPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(destructiveDocumentMethods))
	for _, method := range destructiveDocumentMethods {
		m[method] = regexp.MustCompile(`\.(\w*` + method + `\w*)\s*\(`)
	}
	return m
}()
