package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTables(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"linkedin", "threads", "twitter"}, r.Names())

	threads, ok := r.Lookup("Threads")
	require.True(t, ok)
	assert.Equal(t, NumericLines, threads.Extractor)
	assert.Equal(t, "article", threads.Selectors[0])
	assert.Len(t, threads.Selectors, 8)
	assert.False(t, threads.HasProvider())

	twitter, ok := r.Lookup("twitter")
	require.True(t, ok)
	assert.Equal(t, AriaLabels, twitter.Extractor)
	assert.Equal(t, "gd_lwxkxvnf1cynvib9co", twitter.Provider.DatasetID)
	assert.Equal(t, []string{"replies"}, twitter.FieldAliases(FieldComments))
	assert.Nil(t, twitter.FieldAliases("unknown"))

	linkedin, ok := r.Lookup("linkedin")
	require.True(t, ok)
	assert.Equal(t, "brightdata", linkedin.DefaultEngine)
	assert.Equal(t, []string{"num_shares", "reposts"}, linkedin.FieldAliases(FieldReposts))
}

func TestDetect(t *testing.T) {
	r := Default()
	cases := map[string]string{
		"https://www.threads.net/@someone":           "threads",
		"https://threads.com/@someone":               "threads",
		"https://x.com/someone":                      "twitter",
		"https://mobile.twitter.com/someone":         "twitter",
		"https://www.linkedin.com/in/someone/recent": "linkedin",
	}
	for u, want := range cases {
		d, ok := r.Detect(u)
		require.True(t, ok, u)
		assert.Equal(t, want, d.Name, u)
	}

	_, ok := r.Detect("https://example.com/x")
	assert.False(t, ok)
	_, ok = r.Detect("notxcom.net")
	assert.False(t, ok)
}

func TestGenericFieldsFallback(t *testing.T) {
	d := &Definition{Name: "mastodon"}
	assert.Equal(t, []string{"reposts", "shares"}, d.FieldAliases(FieldReposts))
}

func TestParseRejectsInvalidSelector(t *testing.T) {
	_, err := Parse([]byte(`
platforms:
  - name: broken
    selectors: ['div[class*=']
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid selector")
}

func TestParseRejectsUnknownExtractor(t *testing.T) {
	_, err := Parse([]byte(`
platforms:
  - name: odd
    extractor: ocr
`))
	require.Error(t, err)
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platforms:
  - name: threads
    hosts: [www.threads.net]
    selectors: ['div.custom-post']
  - name: bluesky
    hosts: [bsky.app]
    selectors: ['div[data-testid*="feedItem"]']
`), 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	threads, _ := r.Lookup("threads")
	assert.Equal(t, []string{"div.custom-post"}, threads.Selectors)
	assert.Equal(t, NumericLines, threads.Extractor)
	assert.Equal(t, []string{"threads.net"}, threads.Hosts)

	d, ok := r.Detect("https://bsky.app/profile/someone")
	require.True(t, ok)
	assert.Equal(t, "bluesky", d.Name)
}
