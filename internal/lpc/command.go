// Package lpc stands for "Local Procedure Call". It's a typed RPC-like mechanism implemented
// over Go channels, intended for communication with long-running goroutines such as the batch
// coordinator.
package lpc

import (
	"errors"

	"github.com/hexi/data-portal/generic"
	"github.com/hexi/data-portal/internal/sync_"
)

var (
	ErrClosed     = errors.New("command response already sent")
	ErrNoResponse = errors.New("no response")
)

type Command[Arg any, Response any] struct {
	initialized bool
	arg         Arg
	response    generic.Result[Response]
	done        sync_.Event
}

func NewCommand[Arg any, Response any](arg Arg) *Command[Arg, Response] {
	return &Command[Arg, Response]{
		initialized: true,
		arg:         arg,
		response:    generic.Err[Response](ErrNoResponse), // Default error if closed with no response
	}
}

func (c *Command[Arg, Response]) Arg() Arg {
	return c.arg
}

func (c *Command[Arg, Response]) Respond(response Response) error {
	if c == nil || !c.initialized {
		panic("attempted to call .Respond() on uninitialized Command, must use NewCommand() first")
	}
	if c.done.IsSet() {
		return ErrClosed
	}
	c.response = generic.Ok(response)
	c.Close()
	return nil
}

func (c *Command[Arg, Response]) RespondError(err error) error {
	if c == nil || !c.initialized {
		panic("attempted to call .RespondError() on uninitialized Command, must use NewCommand() first")
	}
	if c.done.IsSet() {
		return ErrClosed
	}
	c.response = generic.Err[Response](err)
	c.Close()
	return nil
}

// Wait blocks until Respond, RespondError or Close, returning the response.
func (c *Command[Arg, Response]) Wait() (Response, error) {
	if c == nil || !c.initialized {
		panic("attempted to call .Wait() on uninitialized Command, must use NewCommand() first")
	}
	<-c.done.Wait()
	return c.response.Parts()
}

// Close resolves the command without a response (Wait returns ErrNoResponse),
// unless a response was already set.
func (c *Command[Arg, Response]) Close() {
	if c == nil || !c.initialized {
		panic("attempted to call .Close() on uninitialized Command, must use NewCommand() first")
	}
	c.done.Set()
}
