package extract_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webwords/internal/extract"
)

func TestExtractBasicPage(t *testing.T) {
	t.Parallel()

	const html = `<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
  <p>Hello world, hello!</p>
  <a href="/about">About</a>
  <a href="https://other.example.com/page">Other</a>
</body>
</html>`

	e := extract.New()
	got, err := e.Extract(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, "Test Page", got.Title)
	assert.Contains(t, got.Text, "Hello world, hello!")
	assert.Equal(t, []string{"/about", "https://other.example.com/page"}, got.Links)
	assert.False(t, got.Degraded)
}

func TestExtractStripsNonContent(t *testing.T) {
	t.Parallel()

	const html = `<html><head><title>t</title>
<script>var hidden = "scriptword";</script>
<style>.x { color: red; }</style>
</head>
<body>
  <nav>navword</nav>
  <header>headerword</header>
  <p>bodyword</p>
  <footer>footerword</footer>
  <noscript>noscriptword</noscript>
  <iframe src="/frame">frameword</iframe>
</body></html>`

	e := extract.New()
	got, err := e.Extract(strings.NewReader(html))
	require.NoError(t, err)

	assert.Contains(t, got.Text, "bodyword")
	for _, hidden := range []string{
		"scriptword", "navword", "headerword", "footerword", "noscriptword", "frameword",
	} {
		assert.NotContains(t, got.Text, hidden)
	}
}

func TestExtractTitleFallsBackToOpenGraph(t *testing.T) {
	t.Parallel()

	const html = `<html><head>
<meta property="og:title" content="OG Title">
</head><body><p>text</p></body></html>`

	e := extract.New()
	got, err := e.Extract(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, "OG Title", got.Title)
}

func TestExtractLinkOrderAndFiltering(t *testing.T) {
	t.Parallel()

	const html = `<html><body>
<a href="/first">1</a>
<a href="#fragment-only">2</a>
<a href="">3</a>
<a href="  /second  ">4</a>
<a>no href</a>
<a href="/third">5</a>
</body></html>`

	e := extract.New()
	got, err := e.Extract(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, []string{"/first", "/second", "/third"}, got.Links)
}

func TestExtractMalformedHTML(t *testing.T) {
	t.Parallel()

	// The html5 parser recovers from unclosed tags.
	const html = `<html><body><p>unclosed <b>bold <a href="/x">link</body>`

	e := extract.New()
	got, err := e.Extract(strings.NewReader(html))
	require.NoError(t, err)

	assert.Contains(t, got.Text, "unclosed")
	assert.Equal(t, []string{"/x"}, got.Links)
}

func TestContentTypeAllowed(t *testing.T) {
	t.Parallel()

	e := extract.New()

	tests := []struct {
		header string
		want   bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"", true},
		{"application/pdf", false},
		{"image/png", false},
		{"application/json; charset=utf-8", false},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, e.ContentTypeAllowed(tt.header))
		})
	}
}

func TestContentTypeExtraTypes(t *testing.T) {
	t.Parallel()

	e := extract.New("text/plain")
	assert.True(t, e.ContentTypeAllowed("text/plain; charset=utf-8"))
}
