// ABOUTME: Tests for carrying a Principal through context.Context

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalContext(t *testing.T) {
	p := Principal{ID: "u-1", DisplayName: "Ada", Email: "ada@example.edu", AuthSource: AuthSourceExternal}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, p, got)
	assert.Equal(t, p, MustFromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	assert.Panics(t, func() { MustFromContext(context.Background()) })
}

func TestPrincipal_IsZero(t *testing.T) {
	assert.True(t, Principal{}.IsZero())
	assert.False(t, Principal{ID: "x"}.IsZero())
}
