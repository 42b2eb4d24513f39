package analyzer

import "strings"

// Sanitization gap descriptors
const (
	GapGetUnsanitized  = "$_GET without sanitization"
	GapPostUnsanitized = "$_POST without sanitization"
	GapRequestUsage    = "$_REQUEST usage (deprecated)"
)

// SanitizationChecker reports input-handling gaps found in one file's content
type SanitizationChecker interface {
	Check(content string) []string
}

// FileScopedChecker flags superglobal reads when no sanitize_ call appears anywhere
// in the same file. It is coarse: one sanitize_ call anywhere clears every
// $_GET/$_POST read in that file.
type FileScopedChecker struct{}

// Check implements SanitizationChecker
func (FileScopedChecker) Check(content string) []string {
	var gaps []string
	sanitized := strings.Contains(content, "sanitize_")
	if strings.Contains(content, "$_GET") && !sanitized {
		gaps = append(gaps, GapGetUnsanitized)
	}
	if strings.Contains(content, "$_POST") && !sanitized {
		gaps = append(gaps, GapPostUnsanitized)
	}
	if strings.Contains(content, "$_REQUEST") {
		gaps = append(gaps, GapRequestUsage)
	}
	return gaps
}
