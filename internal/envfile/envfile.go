// Package envfile edits KEY=VALUE configuration text in place.
//
// Values are written verbatim. A value containing a newline, or the
// literal text "KEY=", is not supported.
package envfile

import (
	"os"
	"regexp"
	"strings"
)

// Upsert replaces the line matching ^key=.*$ with key=value, or appends
// key=value on a new line when no such line exists.
func Upsert(content, key, value string) string {
	line := key + "=" + value
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `=.*$`)
	if loc := re.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + line + content[loc[1]:]
	}
	if content == "" {
		return line
	}
	if strings.HasSuffix(content, "\n") {
		return content + line
	}
	return content + "\n" + line
}

// KV is one key and its value
type KV struct {
	Key   string
	Value string
}

// UpsertAll applies Upsert once per pair, in order. Keys missing from
// content are appended in the order given.
func UpsertAll(content string, values ...KV) string {
	for _, kv := range values {
		content = Upsert(content, kv.Key, kv.Value)
	}
	return content
}

// ReadOrEmpty returns the file content, or an empty string when the file does not exist
func ReadOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write persists content to path
func Write(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
