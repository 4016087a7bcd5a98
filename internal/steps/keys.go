package steps

import (
	"strings"
)

// Prefix is the namespace all step records live under.
const Prefix = "traces/"

// Ext is the extension appended to step names in object keys.
const Ext = ".json"

// CorrelationPrefix returns the key prefix holding every step of one correlation id.
func CorrelationPrefix(correlationID string) string {
	return Prefix + correlationID + "/"
}

// Key returns the object key for a step of a correlation id.
func Key(correlationID, name string) string {
	return CorrelationPrefix(correlationID) + name + Ext
}

// ValidCorrelationID reports whether id can be used as a single key segment.
func ValidCorrelationID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, "/\\")
}

// BaseName returns the last path segment of a key.
func BaseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// TrimExt strips the .json extension if present.
func TrimExt(name string) string {
	return strings.TrimSuffix(name, Ext)
}

// SplitKey splits a step key into its correlation id and file name.
// ok is false when the key is not a direct child of a correlation namespace.
func SplitKey(key string) (correlationID, file string, ok bool) {
	if !strings.HasPrefix(key, Prefix) {
		return "", "", false
	}
	rest := key[len(Prefix):]
	i := strings.Index(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	file = rest[i+1:]
	if strings.Contains(file, "/") {
		return "", "", false
	}
	return rest[:i], file, true
}
