package invoicing

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvoiceNumberUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		n := GenerateInvoiceNumber()
		require.True(t, strings.HasPrefix(n, "INV-"), n)
		seen[n] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestSnowflakeNumbersConcurrent(t *testing.T) {
	gen, err := NewSnowflakeNumbers(7)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				n := gen.Next()
				mu.Lock()
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 2000)
}

func TestNewSnowflakeNumbersRejectsBadNode(t *testing.T) {
	_, err := NewSnowflakeNumbers(4096)
	assert.Error(t, err)
}
