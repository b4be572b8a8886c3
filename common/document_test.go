/*
 *
 * webcat - a driver-agnostic browser interaction layer
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentHTML = `<!DOCTYPE html>
<html>
<head><title>  Lorem
  page </title><base href="/nested/"><script>var hidden = "nope";</script></head>
<body>
  <h1>Lorem</h1>
  <p>Lorem ipsum <a href="/foo" id="foo">dolor</a> sit   amet.</p>
  <form id="f" action="save">
    <textarea name="notes">
line one
  line two</textarea>
    <select name="lang"><option value="en">English</option><option selected>  Swedish   chef </option></select>
  </form>
</body>
</html>`

func TestDocumentSnapshot(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("http://www.example.com/page?q=1", documentHTML)
	require.NoError(t, err)

	assert.Equal(t, "http://www.example.com/page?q=1", doc.URL())
	assert.Equal(t, documentHTML, doc.Body())
	assert.Equal(t, "Lorem page", doc.Title())
	assert.Contains(t, doc.Text(), "Lorem ipsum dolor sit amet.")
	assert.NotContains(t, doc.Text(), "nope")

	u, err := doc.Resolve("save")
	require.NoError(t, err)
	assert.Equal(t, "http://www.example.com/nested/save", u.String())
}

func TestDocumentIdentity(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("http://www.example.com/", documentHTML)
	require.NoError(t, err)
	clone := doc.Clone()
	assert.NotEqual(t, doc.ID(), clone.ID())

	els, err := doc.Query("textarea")
	require.NoError(t, err)
	require.Len(t, els, 1)
	textarea := els[0]

	_, err = clone.Node(textarea)
	require.ErrorIs(t, err, ErrStaleElement)

	n, err := clone.NodeAt(textarea.Path())
	require.NoError(t, err)
	SetNodeText(n, "changed")

	assert.Equal(t, "line one\n  line two", textarea.Value(), "original snapshot must not change")
	again, err := clone.ElementAt(textarea.Path())
	require.NoError(t, err)
	assert.Equal(t, "changed", again.Value())
	assert.Contains(t, clone.Body(), "<textarea name=\"notes\">changed</textarea>")
}

func TestElementHandle(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("http://www.example.com/", documentHTML)
	require.NoError(t, err)

	links, err := doc.Query("a")
	require.NoError(t, err)
	require.Len(t, links, 1)
	link := links[0]
	assert.Equal(t, "a", link.TagName())
	assert.Equal(t, "foo", link.ID())
	assert.Equal(t, "dolor", link.Text())
	assert.Equal(t, "a#foo", link.String())

	same, err := doc.ElementAt(link.Path())
	require.NoError(t, err)
	assert.True(t, same.SameAs(link))

	sels, err := doc.Query("select")
	require.NoError(t, err)
	require.Len(t, sels, 1)
	sel := sels[0]
	assert.Equal(t, "select-one", sel.Type())
	assert.Equal(t, "Swedish chef", sel.Value(), "option without value falls back to its text")
	require.Len(t, sel.Options(), 2)

	form, ok := sel.Form()
	require.True(t, ok)
	assert.Equal(t, "f", form.ID())
	assert.True(t, form.Contains(sel))
	assert.False(t, sel.Contains(form))

	_, err = doc.Query("a[")
	require.ErrorIs(t, err, ErrInvalidSelector)

	_, err = doc.ElementAt([]int{1, 99})
	require.ErrorIs(t, err, ErrStaleElement)
}

func TestElementHandleDisabled(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("http://www.example.com/", `<form>
		<fieldset disabled>
			<legend><input name="in_legend"></legend>
			<input name="in_fieldset">
		</fieldset>
		<select name="s"><optgroup disabled><option>a</option></optgroup><option>b</option></select>
		<input name="plain" disabled>
	</form>`)
	require.NoError(t, err)

	disabled := map[string]bool{}
	els, err := doc.Query("input, option")
	require.NoError(t, err)
	for _, el := range els {
		key := el.Name()
		if key == "" {
			key = el.Text()
		}
		disabled[key] = el.IsDisabled()
	}
	assert.Equal(t, map[string]bool{
		"in_legend":   false,
		"in_fieldset": true,
		"a":           true,
		"b":           false,
		"plain":       true,
	}, disabled)
}

func TestTrimQuotes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b", TrimQuotes(`"a b"`))
	assert.Equal(t, "a b", TrimQuotes(`'a b'`))
	assert.Equal(t, `"a b'`, TrimQuotes(`"a b'`))
	assert.Equal(t, `"`, TrimQuotes(`"`))
}
