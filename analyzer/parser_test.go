package analyzer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheReturnsSameResult(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)

	sql := "UPDATE users SET active = false"

	first, err := cache.Analyze(sql)
	require.NoError(t, err)
	second, err := cache.Analyze(sql)
	require.NoError(t, err)

	assert.Equal(t, first.Statements(), second.Statements())
	assert.Equal(t, []Operation{OperationUpdate}, second.MissingFilterOperations())
}

func TestCacheReplaysParseFailures(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)

	sql := "DELETE WHERE FROM"

	_, err = cache.Analyze(sql)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParseFailure))

	// Second call hits the cached failure and must report the same outcome.
	_, err = cache.Analyze(sql)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParseFailure))
}

func TestCacheDisabled(t *testing.T) {
	cache, err := NewCache(0)
	require.NoError(t, err)

	qa, err := cache.Analyze("DELETE FROM t WHERE a = 1")
	require.NoError(t, err)
	assert.True(t, qa.HasFilterForAllOf(OperationDelete))

	_, err = cache.Analyze("not sql at all ;;;")
	assert.Error(t, err)
}

func TestCacheDistinguishesTexts(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)

	withFilter, err := cache.Analyze("DELETE FROM t WHERE a = 1")
	require.NoError(t, err)
	withoutFilter, err := cache.Analyze("DELETE FROM t")
	require.NoError(t, err)

	assert.True(t, withFilter.HasFilterForAllOf(OperationDelete))
	assert.False(t, withoutFilter.HasFilterForAllOf(OperationDelete))
}
