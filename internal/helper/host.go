package helper

import (
	"net"
	"strings"

	"github.com/tidwall/match"
)

// MatchHost reports whether address (host or host:port) matches any
// pattern in hosts. A pattern with no port matches address regardless of
// its port; a pattern with a port requires an exact port match. Patterns
// support '*'/'?' globs via tidwall/match, so "*.example.com" matches
// any subdomain.
func MatchHost(address string, hosts []string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		port = ""
	}

	for _, pattern := range hosts {
		patternHost, patternPort, splitErr := net.SplitHostPort(pattern)
		if splitErr != nil {
			patternHost = pattern
			patternPort = ""
		}

		if !match.Match(strings.ToLower(host), strings.ToLower(patternHost)) {
			continue
		}
		if patternPort != "" && patternPort != port {
			continue
		}
		return true
	}
	return false
}
