package psfs

import (
	"fmt"
	"testing"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
	"github.com/stretchr/testify/assert"
)

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("open: %w", newError(MagicMismatch, "magic", "PSF", "XYZ"))
	assert.True(t, IsKind(err, MagicMismatch))
	assert.False(t, IsKind(err, TruncatedInput))
	assert.False(t, IsKind(nil, MagicMismatch))

	_, err = pscrypto.NewRetailKeystream([pscrypto.BlockSize]byte{}, 0xC0, nil)
	assert.True(t, IsKind(err, MissingKeyMaterial))
	assert.False(t, IsKind(err, MagicMismatch))
}
