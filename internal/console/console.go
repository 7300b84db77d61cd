// Package console feeds lines typed on the terminal to the agent.
package console

import (
	"bufio"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives console input. Both methods must be safe to call from the
// reader goroutine.
type Sink interface {
	Submit(line string)
	ConsoleClosed()
}

// Console reads lines from in until EOF or Close.
type Console struct {
	in   io.Reader
	sink Sink
	log  *zerolog.Logger

	once sync.Once
	done chan struct{}
}

// New creates a console over in. Call Start to begin reading.
func New(in io.Reader, sink Sink, logger *zerolog.Logger) *Console {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Console{in: in, sink: sink, log: logger, done: make(chan struct{})}
}

// Start launches the reader goroutine.
func (c *Console) Start() {
	go c.read()
}

func (c *Console) read() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}
		c.sink.Submit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn().Err(err).Msg("console read failed")
	}
	select {
	case <-c.done:
	default:
		c.sink.ConsoleClosed()
	}
}

// Close stops forwarding input. A reader that is also an io.Closer is closed
// so a pending read returns.
func (c *Console) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if closer, ok := c.in.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}
