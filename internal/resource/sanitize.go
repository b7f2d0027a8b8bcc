package resource

import "strings"

// Sanitize flattens an id into a single path component by replacing
// every run of non-alphanumeric characters with one underscore.
// Distinct ids can collide after sanitization; callers that need
// exactness keep the original id in file content.
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	inRun := false
	for _, r := range id {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}
