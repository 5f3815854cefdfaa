package idgen

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIDIsUnique(t *testing.T) {
	seen := make(map[int64]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NextID()
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestGenerateTransactionNo(t *testing.T) {
	no := GenerateTransactionNo()
	assert.True(t, strings.HasPrefix(no, "TXN"))
	_, err := strconv.ParseInt(strings.TrimPrefix(no, "TXN"), 10, 64)
	assert.NoError(t, err)
	assert.NotEqual(t, no, GenerateTransactionNo())
}
