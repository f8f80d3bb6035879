package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRecordTypes(t *testing.T) {
	store := NewMemoryStore(1*time.Hour, 1*time.Hour)
	ctx := context.Background()

	t.Run("miss before set", func(t *testing.T) {
		_, ok := store.GetRecordTypeID(ctx, "CSB_Funding_Request_2023")
		assert.False(t, ok)
	})

	t.Run("hit after set", func(t *testing.T) {
		store.SetRecordTypeID(ctx, "CSB_Funding_Request_2023", "rt1")
		id, ok := store.GetRecordTypeID(ctx, "CSB_Funding_Request_2023")
		require.True(t, ok)
		assert.Equal(t, "rt1", id)
	})

	t.Run("entries expire", func(t *testing.T) {
		short := NewMemoryStore(10*time.Millisecond, 10*time.Millisecond)
		short.SetRecordTypeID(ctx, "CSB_Rebate_Item", "rt2")

		time.Sleep(20 * time.Millisecond)

		_, ok := short.GetRecordTypeID(ctx, "CSB_Rebate_Item")
		assert.False(t, ok)
	})
}

func TestMemoryStoreComboKeys(t *testing.T) {
	store := NewMemoryStore(1*time.Hour, 1*time.Hour)
	ctx := context.Background()

	t.Run("miss before set", func(t *testing.T) {
		_, ok := store.GetComboKeys(ctx, "poc@school.example")
		assert.False(t, ok)
	})

	t.Run("hit after set, case insensitive email", func(t *testing.T) {
		store.SetComboKeys(ctx, "POC@School.example", []string{"UEI1230000"})
		keys, ok := store.GetComboKeys(ctx, "poc@school.example")
		require.True(t, ok)
		assert.Equal(t, []string{"UEI1230000"}, keys)
	})

	t.Run("empty key set is a valid cached value", func(t *testing.T) {
		store.SetComboKeys(ctx, "nobody@school.example", []string{})
		keys, ok := store.GetComboKeys(ctx, "nobody@school.example")
		require.True(t, ok)
		assert.Empty(t, keys)
	})

	t.Run("stored slice is isolated from the caller", func(t *testing.T) {
		input := []string{"UEI1230000"}
		store.SetComboKeys(ctx, "other@school.example", input)
		input[0] = "mutated"

		keys, ok := store.GetComboKeys(ctx, "other@school.example")
		require.True(t, ok)
		assert.Equal(t, []string{"UEI1230000"}, keys)
	})
}
