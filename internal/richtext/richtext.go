// Package richtext cleans user supplied HTML in comments and issue descriptions.
package richtext

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugcPolicy   = bluemonday.UGCPolicy()
	stripPolicy = bluemonday.StrictPolicy()
)

// Sanitize keeps safe formatting markup and drops scripts, handlers and unknown attributes.
func Sanitize(s string) string {
	return strings.TrimSpace(ugcPolicy.Sanitize(s))
}

// Plain removes every tag. Used for notification bodies and previews.
func Plain(s string) string {
	return strings.TrimSpace(stripPolicy.Sanitize(s))
}
