package core

import (
	"regexp"
	"strings"
)

var referenceTokenPattern = regexp.MustCompile(`<([^>]+)>`)

var replyPrefixPattern = regexp.MustCompile(`(?i)^\s*(re|fwd|fw)\s*:\s*`)

// NormalizeMessageID strips angle brackets, quotes and surrounding space so
// stored ids and header values compare equal.
func NormalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.TrimSpace(strings.Trim(value, "<>\" "))
}

// ParseReferences returns the message ids of a References header in header
// order. A header without bracketed tokens is treated as a single id.
func ParseReferences(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	matches := referenceTokenPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		if id := NormalizeMessageID(raw); id != "" {
			return []string{id}
		}
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		id := NormalizeMessageID(match[1])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// NormalizeSubject removes any run of leading Re:/Fwd:/Fw: prefixes, collapses
// whitespace and lower-cases the result.
func NormalizeSubject(subject string) string {
	value := strings.TrimSpace(subject)
	for {
		stripped := replyPrefixPattern.ReplaceAllString(value, "")
		if stripped == value {
			break
		}
		value = stripped
	}
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// SubjectsCorrelate reports whether normalized subjects contain one another.
func SubjectsCorrelate(inbound, outbound string) bool {
	left := NormalizeSubject(inbound)
	right := NormalizeSubject(outbound)
	if left == "" || right == "" {
		return false
	}
	return strings.Contains(left, right) || strings.Contains(right, left)
}

func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if open := strings.LastIndex(address, "<"); open >= 0 {
		if end := strings.LastIndex(address, ">"); end > open {
			address = address[open+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(address))
}
