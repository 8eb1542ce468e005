package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dago-studio/internal/domain"
)

func TestBuiltinRegistry_Lookup(t *testing.T) {
	r := NewBuiltinRegistry()

	tmpl, ok := r.Lookup("ocr")
	require.True(t, ok)
	assert.Equal(t, domain.CategoryAction, tmpl.Category)

	in, ok := tmpl.Input("")
	require.True(t, ok)
	assert.Equal(t, "in", in.Name)

	text, ok := tmpl.Output("text")
	require.True(t, ok)
	assert.Equal(t, domain.DataTypeString, text.DataType)

	_, ok = tmpl.Output("nope")
	assert.False(t, ok)

	_, ok = r.Lookup("teleport")
	assert.False(t, ok)
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Template{Type: "custom", Category: domain.CategoryAction}))

	err := r.Register(Template{Type: "custom", Category: domain.CategoryAction})
	assert.ErrorContains(t, err, "duplicate template type")

	err = r.Register(Template{Type: "nocat"})
	assert.ErrorContains(t, err, "no category")
}

func TestRegistry_ResolveConfig(t *testing.T) {
	r := NewBuiltinRegistry()

	t.Run("defaults only", func(t *testing.T) {
		cfg, err := r.ResolveConfig("click", nil)
		require.NoError(t, err)
		assert.Equal(t, "left", cfg["button"])
		assert.Equal(t, float64(1), cfg["clicks"])
	})

	t.Run("user values override and extend defaults", func(t *testing.T) {
		cfg, err := r.ResolveConfig("click", map[string]any{"button": "right", "note": "submit"})
		require.NoError(t, err)
		assert.Equal(t, "right", cfg["button"])
		assert.Equal(t, "submit", cfg["note"])
		assert.Equal(t, float64(1), cfg["clicks"])
	})

	t.Run("template defaults are not modified", func(t *testing.T) {
		_, err := r.ResolveConfig("click", map[string]any{"button": "middle"})
		require.NoError(t, err)

		tmpl, _ := r.Lookup("click")
		assert.Equal(t, "left", tmpl.Defaults["button"])
	})

	t.Run("numbers are decoded as float64", func(t *testing.T) {
		cfg, err := r.ResolveConfig("click", map[string]any{"x": 40, "y": int64(12)})
		require.NoError(t, err)
		assert.Equal(t, float64(40), cfg["x"])
		assert.Equal(t, float64(12), cfg["y"])
	})

	t.Run("non JSON values are rejected", func(t *testing.T) {
		_, err := r.ResolveConfig("click", map[string]any{"callback": func() {}})
		assert.ErrorContains(t, err, "not JSON encodable")
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.ResolveConfig("teleport", nil)
		assert.ErrorContains(t, err, "unknown node type")
	})
}

func TestRegistry_NewNodeAndConnect(t *testing.T) {
	r := NewBuiltinRegistry()
	g := domain.NewGraph("wf-1", "demo")

	trigger, err := r.NewNode("start", "trigger", domain.Position{}, nil)
	require.NoError(t, err)
	require.NoError(t, g.AddNode(trigger))

	shot, err := r.NewNode("shot", "screenshot", domain.Position{X: 200}, nil)
	require.NoError(t, err)
	require.NoError(t, g.AddNode(shot))

	ocr, err := r.NewNode("read", "ocr", domain.Position{X: 400}, map[string]any{"language": "deu"})
	require.NoError(t, err)
	require.NoError(t, g.AddNode(ocr))
	assert.Equal(t, domain.CategoryAction, ocr.Category)
	assert.Equal(t, "deu", ocr.Config["language"])
	assert.Equal(t, domain.NodeStatusIdle, ocr.Status)

	e, err := r.Connect(g, "start", "", "shot", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypeFlow, e.DataType)
	assert.Equal(t, "out", e.SourcePort)
	assert.Equal(t, "in", e.TargetPort)

	e, err = r.Connect(g, "shot", "image", "read", "image")
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypeImage, e.DataType)
	assert.Len(t, g.Edges, 2)

	_, err = r.Connect(g, "shot", "missing", "read", "")
	assert.ErrorContains(t, err, "no output port")

	_, err = r.Connect(g, "ghost", "", "read", "")
	assert.ErrorContains(t, err, "source node not found")
}

func TestRegistry_ListSorted(t *testing.T) {
	list := NewBuiltinRegistry().List()
	require.NotEmpty(t, list)

	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Category == cur.Category {
			assert.Less(t, prev.Type, cur.Type)
		} else {
			assert.Less(t, string(prev.Category), string(cur.Category))
		}
	}
}
