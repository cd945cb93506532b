package groups

import (
	"regexp"
	"strings"

	"rollcall/pkg/rollcall"
)

// mentionPattern is the mention grammar shared by group names and user references.
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

var groupNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ScanMentions returns every @token in text, left to right, repeats included.
func ScanMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		tokens = append(tokens, match[1])
	}

	return tokens
}

// firstMention returns the first @token inside one argument, e.g. "U1" for "<@U1|alice>".
func firstMention(argument string) (string, bool) {
	match := mentionPattern.FindStringSubmatch(argument)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// ValidGroupName reports whether name can be addressed as @name.
func ValidGroupName(name string) bool {
	return groupNamePattern.MatchString(name)
}

// normalizeGroupArgument accepts "eng" and "@eng" for the same group.
func normalizeGroupArgument(argument string) string {
	return strings.TrimPrefix(argument, "@")
}

// formatMembers renders members as platform mentions joined by separator.
func formatMembers(platform rollcall.Platform, members []string, separator string) string {
	rendered := make([]string, 0, len(members))
	for _, member := range members {
		rendered = append(rendered, rollcall.FormatUserMention(platform, member))
	}

	return strings.Join(rendered, separator)
}
