package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	out := Sanitize(`<p onclick="steal()">Ship <b>it</b></p><script>alert(1)</script>`)
	assert.Equal(t, "<p>Ship <b>it</b></p>", out)
	assert.NotContains(t, Sanitize(`<a href="javascript:alert(1)">x</a>`), "javascript")
}

func TestPlain(t *testing.T) {
	assert.Equal(t, "Ship it", Plain("  <p>Ship <em>it</em></p> "))
	assert.Empty(t, Plain("<br/>"))
}
