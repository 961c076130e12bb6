package async

import (
	"errors"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(42, <-Run(func() int { return 42 }))
}

func TestRunResult(t *testing.T) {
	assert := assert_.New(t)
	exampleError := errors.New("example error")

	r := <-RunResult(func() (int, error) { return 42, nil })
	assert.True(r.IsOk())
	assert.Equal(42, r.Value)

	r = <-RunResult(func() (int, error) { return 0, exampleError })
	assert.True(r.IsErr())
	assert.ErrorIs(r.Error, exampleError)
}
