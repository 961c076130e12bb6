package generic

import (
	"errors"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert := assert_.New(t)
	exampleError := errors.New("example error")

	ok := Ok(123)
	assert.True(ok.IsOk())
	assert.False(ok.IsErr())
	assert.Equal(123, ok.Unwrap())
	assert.Equal(123, ok.UnwrapOr(456))
	v, err := ok.Parts()
	assert.Equal(123, v)
	assert.Nil(err)

	bad := Err[int](exampleError)
	assert.False(bad.IsOk())
	assert.True(bad.IsErr())
	assert.Equal(456, bad.UnwrapOr(456))
	assert.Panics(func() { bad.Unwrap() })
	assert.Panics(func() { bad.Expect("should explode") })
	_, err = bad.Parts()
	assert.ErrorIs(err, exampleError)
}

func TestUnwrap(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(123, Unwrap(123, nil))
	assert.Panics(func() { Unwrap(0, errors.New("nope")) })
	assert.NotPanics(func() { Unwrap_(nil) })
	assert.Panics(func() { Unwrap_(errors.New("nope")) })
}
