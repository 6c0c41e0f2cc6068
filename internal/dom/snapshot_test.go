package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><body>
	<nav id="top-nav"><a id="home" href="/">Home</a></nav>
	<form id="search-form">
		<input id="q" type="search" name="query" placeholder="Search...">
		<button id="go" type="submit">Search</button>
	</form>
	<div id="content">
		<p class="intro">Welcome to the store.</p>
		<span id="cart-count" data-items="3">3 items</span>
	</div>
	<div onclick="open()" id="banner">Sale!</div>
	<div role="button" id="ghost">Ghost button</div>
	<button>anonymous button</button>
</body></html>`

func parse(t *testing.T, html string) *Snapshot {
	t.Helper()
	snap, err := Parse(html)
	require.NoError(t, err)
	return snap
}

func TestExists(t *testing.T) {
	snap := parse(t, samplePage)

	assert.True(t, snap.Exists("#content"))
	assert.True(t, snap.Exists(".intro"))
	assert.False(t, snap.Exists("#missing"))
	// Bare identifiers resolve as element ids.
	assert.True(t, snap.Exists("cart-count"))
}

func TestExistsInvalidSelectorDoesNotPanic(t *testing.T) {
	snap := parse(t, samplePage)

	assert.NotPanics(t, func() {
		assert.False(t, snap.Exists("div[unterminated"))
		assert.False(t, snap.Exists("::?!bogus"))
	})
}

func TestText(t *testing.T) {
	snap := parse(t, samplePage)

	text, ok := snap.Text(".intro")
	require.True(t, ok)
	assert.Equal(t, "Welcome to the store.", text)

	_, ok = snap.Text("#missing")
	assert.False(t, ok)
}

func TestAttr(t *testing.T) {
	snap := parse(t, samplePage)

	val, ok := snap.Attr("#cart-count", "data-items")
	require.True(t, ok)
	assert.Equal(t, "3", val)

	_, ok = snap.Attr("#cart-count", "data-absent")
	assert.False(t, ok)
}

func TestInteractables(t *testing.T) {
	snap := parse(t, samplePage)
	elements := snap.Interactables()

	byID := make(map[string]Element, len(elements))
	for _, el := range elements {
		byID[el.ID] = el
	}

	// Links, form fields, buttons, click handlers and button roles all count.
	assert.Contains(t, byID, "home")
	assert.Contains(t, byID, "q")
	assert.Contains(t, byID, "go")
	assert.Contains(t, byID, "banner")
	assert.Contains(t, byID, "ghost")

	// Elements without ids cannot be addressed by an action string.
	for _, el := range elements {
		assert.NotEmpty(t, el.ID)
	}

	q := byID["q"]
	assert.Equal(t, "input", q.Tag)
	assert.Equal(t, "search", q.Type)
	assert.Equal(t, "Search...", q.Placeholder)
	assert.Equal(t, "Search...", q.Label())

	btn := byID["go"]
	assert.Equal(t, "button", btn.Tag)
	assert.Equal(t, "Search", btn.Text)
}

func TestTruncated(t *testing.T) {
	snap := parse(t, samplePage)

	full := snap.Truncated(0)
	assert.Equal(t, samplePage, full)

	capped := snap.Truncated(40)
	assert.True(t, strings.HasPrefix(capped, samplePage[:40]))
	assert.Contains(t, capped, "truncated")

	// A cap larger than the content changes nothing.
	assert.Equal(t, samplePage, snap.Truncated(1_000_000))
}

func TestEmptySnapshot(t *testing.T) {
	snap := parse(t, "")
	assert.False(t, snap.Exists("#anything"))
	assert.Empty(t, snap.Interactables())
	assert.Equal(t, "", snap.Raw())
}
