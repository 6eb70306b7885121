package domainerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("insert profil: %w", ErrDuplicate)
	assert.True(t, Is(wrapped, ErrDuplicate))
	assert.False(t, Is(wrapped, ErrNotFound))
}

func TestIsDistinguishesSentinels(t *testing.T) {
	assert.False(t, Is(ErrValidation, ErrAuthorization))
	assert.True(t, Is(ErrTransient, ErrTransient))
}
