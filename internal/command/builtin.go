package command

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ws2dgo/server/internal/persist"
	"github.com/ws2dgo/server/internal/server"
)

const (
	journalDefault = 10
	journalMax     = 100
)

// Builtins returns the commands every server has.
func Builtins() []Command {
	return []Command{
		{
			Aliases: []string{"stop", "shutdown"},
			Usage:   "stop",
			Run: func(srv *server.Server, out io.Writer, _ []string) error {
				fmt.Fprintln(out, "Stopping server...")
				srv.Shutdown()
				return nil
			},
		},
		{
			Aliases: []string{"status", "tps"},
			Usage:   "status",
			Run:     status,
		},
		{
			Aliases: []string{"kick"},
			Usage:   "kick <id>",
			Run:     kick,
		},
	}
}

// RegisterBuiltins adds Builtins and a help command listing r to r.
func RegisterBuiltins(r *Registry) error {
	for _, cmd := range Builtins() {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return r.Register(Help(r))
}

// Help lists every command in r with its usage and other aliases.
func Help(r *Registry) Command {
	return Command{
		Aliases: []string{"help", "?"},
		Usage:   "help",
		Run: func(_ *server.Server, out io.Writer, _ []string) error {
			fmt.Fprintln(out, "Commands:")
			for _, cmd := range r.Commands() {
				usage := cmd.Usage
				if usage == "" {
					usage = cmd.Aliases[0]
				}
				if len(cmd.Aliases) > 1 {
					fmt.Fprintf(out, "  %-16s (also %s)\n", usage, strings.Join(cmd.Aliases[1:], ", "))
				} else {
					fmt.Fprintf(out, "  %s\n", usage)
				}
			}
			return nil
		},
	}
}

// EventSource reads back recorded connection events, newest first.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]persist.Entry, error)
}

// Journal prints the newest connection events from src. The query runs on
// the console goroutine so the tick loop never waits on the database.
func Journal(src EventSource) Command {
	return Command{
		Aliases:  []string{"journal"},
		Usage:    "journal [n]",
		Detached: true,
		Run: func(_ *server.Server, out io.Writer, args []string) error {
			n := journalDefault
			if len(args) > 2 {
				return fmt.Errorf("usage: journal [n]")
			}
			if len(args) == 2 {
				v, err := strconv.Atoi(args[1])
				if err != nil || v < 1 {
					return fmt.Errorf("invalid count %q", args[1])
				}
				n = min(v, journalMax)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			entries, err := src.Recent(ctx, n)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No connection events recorded.")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-12s id=%-3d %s", e.At.Format("2006-01-02 15:04:05"), e.Kind, e.ClientID, e.Remote)
				if e.Reason != "" {
					line += "  (" + e.Reason + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func status(srv *server.Server, out io.Writer, _ []string) error {
	cfg := srv.Config()
	p := srv.Pacer()
	fmt.Fprintf(out, "connections: %d/%d\n", srv.ClientCount(), cfg.MaxConnections)
	fmt.Fprintf(out, "tasks:       %d\n", srv.Scheduler().Len())
	fmt.Fprintf(out, "ticks:       %d\n", srv.Scheduler().Ticks())
	fmt.Fprintf(out, "tps:         %.2f (target %d)\n", p.MeasuredTPS(), cfg.TicksPerSecond)
	fmt.Fprintf(out, "tick delay:  %s\n", p.Delay())
	return nil
}

func kick(srv *server.Server, out io.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: kick <id>")
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid client id %q", args[1])
	}
	c, ok := srv.Client(id)
	if !ok {
		return fmt.Errorf("no client with id %d", id)
	}
	srv.Disconnect(c, server.ReasonKicked)
	fmt.Fprintf(out, "Kicked client %d (%s).\n", id, c.RemoteAddr())
	return nil
}
