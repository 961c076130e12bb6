package lpc

import (
	"errors"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestCommand_New(t *testing.T) {
	assert := assert_.New(t)

	a := NewCommand[int, int](1)
	assert.Equal(1, a.Arg())
	a.Close()

	// Invalid to call method on uninitialized value
	assert.Panics(func() {
		var c Command[int, int]
		c.Close()
	})
	assert.Panics(func() {
		var c Command[int, int]
		_ = c.Respond(3)
	})
	assert.Panics(func() {
		var c Command[int, int]
		_ = c.RespondError(errors.New("hello, world"))
	})
	assert.Panics(func() {
		var c Command[int, int]
		_, _ = c.Wait()
	})

	// Invalid to call method on nil pointer
	assert.Panics(func() {
		var d *Command[int, int]
		d.Close()
	})
}

func TestCommand_Close(t *testing.T) {
	assert := assert_.New(t)

	// If command is prematurely closed, then the response is an error
	c := NewCommand[int, int](1)
	c.Close()
	_, err := c.Wait()
	assert.ErrorIs(err, ErrNoResponse)
}

func TestCommand_Respond(t *testing.T) {
	assert := assert_.New(t)
	exampleError := errors.New("example error")

	a := NewCommand[int, int](1)
	// First response gets sent
	assert.Nil(a.Respond(3))
	v, err := a.Wait()
	assert.Nil(err)
	assert.Equal(3, v)
	// Any further attempts to respond will fail
	assert.ErrorIs(a.Respond(4), ErrClosed)
	assert.ErrorIs(a.RespondError(exampleError), ErrClosed)

	b := NewCommand[int, int](1)
	// First error gets sent
	assert.Nil(b.RespondError(exampleError))
	_, err = b.Wait()
	assert.ErrorIs(err, exampleError)
	// Any further attempts to respond will fail
	assert.ErrorIs(b.Respond(4), ErrClosed)
	assert.ErrorIs(b.RespondError(exampleError), ErrClosed)
}

func BenchmarkCommand_New_Respond_Wait(b *testing.B) {
	commands := make(chan *Command[int, int], 1)
	go func() {
		for c := range commands {
			_ = c.Respond(c.Arg())
		}
	}()
	for i := 0; i < b.N; i++ {
		c := NewCommand[int, int](i)
		commands <- c
		_, _ = c.Wait()
	}
	close(commands)
}
