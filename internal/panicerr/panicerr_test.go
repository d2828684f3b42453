package panicerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobbiw/eightball/internal/panicerr"
)

func TestRecoverPassesThroughNormalReturn(t *testing.T) {
	sentinel := errors.New("boom")
	err := panicerr.Recover("test", func() error { return sentinel })
	assert.Equal(t, sentinel, err)
}

func TestRecoverCatchesPanic(t *testing.T) {
	err := panicerr.Recover("test", func() error {
		panic("should never happen")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "should never happen")
}
