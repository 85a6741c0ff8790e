package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", SanitizeString(" <script>alert(1)</script> "))
	assert.Equal(t, "Tom &amp; Jerry", SanitizeString("Tom & Jerry"))
	assert.Equal(t, "&#34;quoted&#34; &#39;x&#39;", SanitizeString(`"quoted" 'x'`))
}

type address struct {
	Street string
	City   *string
	Tags   []string
	Extra  map[string]string
	Count  int
	hidden string
}

func TestSanitize_WalksNestedValues(t *testing.T) {
	city := "<b>Chisinau</b>"
	a := address{
		Street: "Str. <i>Stefan</i>",
		City:   &city,
		Tags:   []string{"<x>"},
		Extra:  map[string]string{"note": "a&b"},
		Count:  3,
		hidden: "<keep>",
	}

	Sanitize(&a)

	assert.Equal(t, "Str. &lt;i&gt;Stefan&lt;/i&gt;", a.Street)
	assert.Equal(t, "&lt;b&gt;Chisinau&lt;/b&gt;", *a.City)
	assert.Equal(t, []string{"&lt;x&gt;"}, a.Tags)
	assert.Equal(t, "a&amp;b", a.Extra["note"])
	assert.Equal(t, 3, a.Count)
	assert.Equal(t, "<keep>", a.hidden)
}

func TestSanitize_GenericPayload(t *testing.T) {
	payload := map[string]any{
		"productId": "<p1>",
		"nested":    map[string]any{"x": "<y>"},
		"quantity":  float64(2),
	}

	Sanitize(&payload)

	assert.Equal(t, "&lt;p1&gt;", payload["productId"])
	assert.Equal(t, "&lt;y&gt;", payload["nested"].(map[string]any)["x"])
	assert.Equal(t, float64(2), payload["quantity"])
}

func TestSanitize_IgnoresNonPointers(t *testing.T) {
	s := "<x>"
	Sanitize(s)
	Sanitize(nil)
	assert.Equal(t, "<x>", s)
}
