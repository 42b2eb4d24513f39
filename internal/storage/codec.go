package storage

import "strings"

const listSeparator = ","

// EncodeList joins an ordered list for storage. Commas inside items are dropped
// so that decoding yields the same number of items. An empty list encodes to "".
func EncodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	clean := make([]string, len(items))
	for i, it := range items {
		clean[i] = strings.ReplaceAll(it, listSeparator, "")
	}
	return strings.Join(clean, listSeparator)
}

// DecodeList splits a stored list. "" decodes to an empty, non-nil list.
func DecodeList(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, listSeparator)
}
