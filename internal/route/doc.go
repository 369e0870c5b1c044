// Package route implements the gateway's static route table.
//
// Patterns are either exact paths, path.Match globs, or subtree patterns
// ending in "/**" which match the prefix itself and everything below it.
// Resolve picks the entry with the longest literal prefix, so
// "/actuator/flights/**" wins over "/actuator/**". An entry may carry a
// Rewrite that changes only the path forwarded upstream.
package route
