package command

import (
	"context"
	"fmt"
	"io"
	"strings"

	prompt "github.com/joeycumines/go-prompt"
	pstrings "github.com/joeycumines/go-prompt/strings"
	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/server"
)

const promptPrefix = "> "

// Console is the interactive operator prompt. Lines typed at the terminal
// run on the server's tick goroutine, one at a time.
type Console struct {
	reg *Registry
	srv *server.Server
	out io.Writer
	log *zap.Logger
}

func NewConsole(reg *Registry, srv *server.Server, out io.Writer, log *zap.Logger) *Console {
	return &Console{reg: reg, srv: srv, out: out, log: log}
}

// Run drives the terminal prompt until ctx is done or the server stops.
// It never exits the process.
func (c *Console) Run(ctx context.Context) {
	p := prompt.New(c.execute, c.options()...)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.srv.Done():
		case <-finished:
			return
		}
		p.Close()
	}()

	p.RunNoExit()
}

func (c *Console) options() []prompt.Option {
	return []prompt.Option{
		prompt.WithPrefix(promptPrefix),
		prompt.WithTitle("ws2d"),
		prompt.WithPrefixTextColor(prompt.Yellow),
		prompt.WithCompleter(c.complete),
	}
}

func (c *Console) execute(line string) {
	if !c.Exec(line) {
		c.log.Debug("console line dropped, server stopping", zap.String("line", line))
	}
}

// complete suggests command aliases for the first word of the line.
func (c *Console) complete(d prompt.Document) ([]prompt.Suggest, pstrings.RuneNumber, pstrings.RuneNumber) {
	end := d.CurrentRuneIndex()
	word := d.GetWordBeforeCursor()
	start := end - pstrings.RuneCountInString(word)
	if start > 0 {
		return nil, start, end
	}
	return c.Suggest(word), start, end
}

// Suggest lists the aliases beginning with prefix, described by their usage.
func (c *Console) Suggest(prefix string) []prompt.Suggest {
	aliases := c.reg.Aliases()
	all := make([]prompt.Suggest, 0, len(aliases))
	for _, alias := range aliases {
		cmd, _ := c.reg.Lookup(alias)
		all = append(all, prompt.Suggest{Text: alias, Description: cmd.Usage})
	}
	return prompt.FilterHasPrefix(all, prefix, true)
}

// Exec runs one command line and waits for it to finish. It returns false
// if the server no longer accepts work.
func (c *Console) Exec(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}
	cmd, ok := c.reg.Lookup(args[0])
	if !ok {
		fmt.Fprintln(c.out, "Invalid command.")
		return true
	}
	if cmd.Detached {
		c.run(cmd, args)
		return true
	}

	done := make(chan struct{})
	posted := c.srv.Post(func() {
		defer close(done)
		c.run(cmd, args)
	})
	if !posted {
		return false
	}
	select {
	case <-done:
	case <-c.srv.Done():
		// the loop may exit before draining the call
		select {
		case <-done:
		default:
			return false
		}
	}
	return true
}

func (c *Console) run(cmd *Command, args []string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("command panicked", zap.String("command", args[0]), zap.Any("panic", rec))
			fmt.Fprintln(c.out, "There was an error while processing this command.")
		}
	}()
	if err := cmd.Run(c.srv, c.out, args); err != nil {
		fmt.Fprintln(c.out, err)
	}
}
