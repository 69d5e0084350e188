package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSConfig(t *testing.T) {
	c := corsConfig([]string{"*"})
	assert.True(t, c.AllowAllOrigins)
	assert.False(t, c.AllowCredentials)
	assert.NoError(t, c.Validate())

	c = corsConfig(nil)
	assert.True(t, c.AllowAllOrigins)

	c = corsConfig([]string{"https://portal.example.edu"})
	assert.False(t, c.AllowAllOrigins)
	assert.True(t, c.AllowCredentials)
	assert.Equal(t, []string{"https://portal.example.edu"}, c.AllowOrigins)
	assert.NoError(t, c.Validate())
}
