package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    []string
		wantErr bool
	}{
		{"root", "", nil, false},
		{"slash root", "/", nil, false},
		{"nested", "rooms/ABC123/players", []string{"rooms", "ABC123", "players"}, false},
		{"trims slashes", "/rooms/ABC123/", []string{"rooms", "ABC123"}, false},
		{"empty segment", "rooms//x", nil, true},
		{"reserved dot", "rooms/a.b", nil, true},
		{"reserved hash", "rooms/#1", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePrunesEmpties(t *testing.T) {
	type player struct {
		Name  string         `json:"name"`
		Extra map[string]any `json:"extra,omitempty"`
		Guess *int           `json:"guess"`
	}
	v, err := normalize(map[string]any{
		"p1":    player{Name: "Alice"},
		"empty": map[string]any{"nested": map[string]any{}},
		"nil":   nil,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"p1": map[string]any{"name": "Alice"}}, v)

	v, err = normalize(map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestServerTimestampResolution(t *testing.T) {
	v, err := prepare(map[string]any{"a": ServerTimestamp, "b": 1}, func() (int64, error) { return 1700000000123, nil })
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1700000000123), "b": float64(1)}, v)

	called := false
	_, err = prepare("plain", func() (int64, error) { called = true; return 0, nil })
	require.NoError(t, err)
	assert.False(t, called, "clock should only be read when placeholders are present")
}

func TestSetInCopiesOnWrite(t *testing.T) {
	original := map[string]any{
		"rooms": map[string]any{
			"A": map[string]any{"code": "A"},
		},
	}
	updated := setIn(original, []string{"rooms", "B", "code"}, "B")

	assert.Nil(t, getIn(original, []string{"rooms", "B"}), "original tree must not change")
	assert.Equal(t, "B", getIn(updated, []string{"rooms", "B", "code"}))
	assert.Equal(t, "A", getIn(updated, []string{"rooms", "A", "code"}))
}

func TestSetInDeletePrunesParents(t *testing.T) {
	root := setIn(nil, []string{"rooms", "A", "players", "p1", "score"}, float64(10))
	root = setIn(root, []string{"rooms", "A", "players", "p1"}, nil)
	assert.Nil(t, root)
}

func TestExpandUpdateOrdersShallowFirst(t *testing.T) {
	writes, err := expandUpdate("rooms/A", map[string]any{
		"players/p1/score": 0,
		"currentRound":     1,
		"players":          map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, writes, 3)
	assert.Equal(t, []string{"rooms", "A", "currentRound"}, writes[0].segs)
	assert.Equal(t, []string{"rooms", "A", "players"}, writes[1].segs)
	assert.Equal(t, []string{"rooms", "A", "players", "p1", "score"}, writes[2].segs)
}

func TestPushKeysAreOrdered(t *testing.T) {
	var g pushKeys
	prev := ""
	for i := 0; i < 100; i++ {
		key := g.next(1700000000000 + int64(i/10))
		assert.Greater(t, key, prev)
		prev = key
	}
	// A clock that steps backwards still yields increasing keys
	assert.Greater(t, g.next(1), prev)
}

func TestPushKeyAfterExistingSibling(t *testing.T) {
	var fast, slow pushKeys
	late := fast.next(2_000)

	k := slow.after(1_000, late)
	assert.Greater(t, k, late)
	next := slow.after(1_000, "")
	assert.Greater(t, next, k)
	assert.Greater(t, slow.after(3_000, "not-a-key"), next)
	assert.Equal(t, "0000000002000", k[:13])
}
