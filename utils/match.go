// Package utils holds small matching helpers shared by the engine and
// its tooling.
package utils

// MatchModule reports whether a module name matches a scope pattern.
// Patterns are literal module names, "*" for everything, or a prefix
// with a trailing '*' ("sales_*" matches "sales_orders").
func MatchModule(name, pattern string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(name) >= len(prefix) && name[:len(prefix)] == prefix
	}
	return false
}

// MatchRecordKey matches a "module:record" key against a pattern with
// the same wildcard rules applied per segment ("invoices:*").
func MatchRecordKey(key, pattern string) bool {
	if pattern == "*" || pattern == key {
		return true
	}
	ki, pi := splitKey(key), splitKey(pattern)
	return MatchModule(ki[0], pi[0]) && MatchModule(ki[1], pi[1])
}

func splitKey(s string) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}
