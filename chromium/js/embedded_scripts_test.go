package js

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptsCompile(t *testing.T) {
	t.Parallel()

	scripts := map[string]string{
		"snapshot.js": SnapshotScript,
		"find.js":     FindScript,
		"element.js":  ElementScript,
		"action.js":   ActionScript,
		"marker.js":   MarkerScript,
	}
	for name, src := range scripts {
		name, src := name, src
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.NotEmpty(t, src)
			_, err := goja.Compile(name, src, true)
			require.NoError(t, err)
		})
	}
}

func TestMarkerScript(t *testing.T) {
	t.Parallel()

	vm := goja.New()
	require.NoError(t, vm.Set("window", vm.NewObject()))
	require.NoError(t, vm.Set("document", map[string]any{"readyState": "complete"}))
	require.NoError(t, vm.Set("location", map[string]any{"href": "http://app/"}))

	fn, err := vm.RunString(MarkerScript)
	require.NoError(t, err)
	mark, ok := goja.AssertFunction(fn)
	require.True(t, ok)

	res, err := mark(goja.Undefined(), vm.ToValue("m1"), vm.ToValue(false))
	require.NoError(t, err)
	assert.Equal(t, false, res.ToObject(vm).Get("marked").Export())

	res, err = mark(goja.Undefined(), vm.ToValue("m1"), vm.ToValue(true))
	require.NoError(t, err)
	obj := res.ToObject(vm)
	assert.Equal(t, true, obj.Get("marked").Export())
	assert.Equal(t, "complete", obj.Get("ready").Export())
	assert.Equal(t, "http://app/", obj.Get("url").Export())
}
