package credit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromCredits(t *testing.T) {
	assert.Equal(t, Milicredits(1000), FromCredits(1))
	assert.Equal(t, Milicredits(1500), FromCredits(1.5))
	assert.Equal(t, Milicredits(1), FromCredits(0.0005))
	assert.Equal(t, Milicredits(0), FromCredits(0.0004))
}

func TestCredits(t *testing.T) {
	assert.Equal(t, 2.5, Milicredits(2500).Credits())
	assert.Equal(t, 0.001, Milicredits(1).Credits())
}
