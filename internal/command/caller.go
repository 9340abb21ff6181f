package command

import (
	"fmt"
	"io"
	"sync"
)

// Console is the server console caller; it holds every permission.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console caller writing replies to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Name() string { return "Console" }

func (c *Console) HasPermission(string) bool { return true }

func (c *Console) Reply(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, msg)
}
