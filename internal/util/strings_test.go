package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeTruncate(t *testing.T) {
	assert.Equal(t, "abc", SafeTruncate("abcdef", 3))
	assert.Equal(t, "abcdef", SafeTruncate("abcdef", 10))
	assert.Equal(t, "abcdef", SafeTruncate("abcdef", 6))
	assert.Equal(t, "", SafeTruncate("abcdef", 0))
	assert.Equal(t, "", SafeTruncate("abcdef", -1))
	assert.Equal(t, "", SafeTruncate("", 8))
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://mcp.example.com", NormalizeURL("https://mcp.example.com/"))
	assert.Equal(t, "https://mcp.example.com", NormalizeURL("https://mcp.example.com///"))
	assert.Equal(t, "https://mcp.example.com", NormalizeURL("https://mcp.example.com"))
	assert.Equal(t, "", NormalizeURL("/"))
}
