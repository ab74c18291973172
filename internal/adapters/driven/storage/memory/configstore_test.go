package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_Seed(t *testing.T) {
	store := NewConfigStore(map[string]any{"queue.name": "democracy"})

	assert.Equal(t, "democracy", store.GetString("queue.name"))
	assert.Equal(t, ":memory:", store.Path())
	assert.NoError(t, store.Save())
	assert.NoError(t, store.Load())
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore(map[string]any{
		"int":        42,
		"int_str":    "7",
		"float":      0.5,
		"float_str":  "1.5",
		"dur":        "3s",
		"dur_num":    2,
		"dur_native": 150 * time.Millisecond,
		"bool":       true,
		"bool_str":   "true",
		"slice":      []any{"a", 1, "b"},
	})

	assert.Equal(t, 42, store.GetInt("int"))
	assert.Equal(t, 7, store.GetInt("int_str"))
	assert.Equal(t, 0.5, store.GetFloat("float"))
	assert.Equal(t, 1.5, store.GetFloat("float_str"))
	assert.Equal(t, 42.0, store.GetFloat("int"))
	assert.Equal(t, 3*time.Second, store.GetDuration("dur"))
	assert.Equal(t, 2*time.Second, store.GetDuration("dur_num"))
	assert.Equal(t, 150*time.Millisecond, store.GetDuration("dur_native"))
	assert.True(t, store.GetBool("bool"))
	assert.True(t, store.GetBool("bool_str"))
	assert.Equal(t, []string{"a", "b"}, store.GetStringSlice("slice"))
}

func TestConfigStore_MissingAndWrongTypes(t *testing.T) {
	store := NewConfigStore(map[string]any{"str": "x", "num": 3})

	assert.Equal(t, "", store.GetString("num"))
	assert.Equal(t, 0, store.GetInt("missing"))
	assert.Equal(t, 0.0, store.GetFloat("missing"))
	assert.Equal(t, time.Duration(0), store.GetDuration("str"))
	assert.False(t, store.GetBool("str"))
	assert.Nil(t, store.GetStringSlice("str"))
	_, ok := store.Get("missing")
	assert.False(t, ok)
}

func TestConfigStore_Set_Update(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("key", "original"))
	require.NoError(t, store.Set("key", "updated"))

	assert.Equal(t, "updated", store.GetString("key"))
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := NewConfigStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key.%d", n)
			_ = store.Set(key, n)
			_ = store.GetInt(key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		assert.Equal(t, i, store.GetInt(fmt.Sprintf("key.%d", i)))
	}
}
