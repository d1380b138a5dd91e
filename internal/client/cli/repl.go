package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context, args []string) error
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Attach(ctx context.Context, args []string) error
	Detach(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Conflicts(ctx context.Context, args []string) error
	Resolve(ctx context.Context, args []string) error
	Migrate(ctx context.Context, args []string) error
	Rollback(ctx context.Context, args []string) error
	Events(ctx context.Context, args []string) error
}

type command struct {
	name  string
	usage string
	auth  bool
	run   func(ctx context.Context, args []string) error
}

var errUsage = errors.New("wrong arguments")

func commands(a execIface) []command {
	return []command{
		{"register", "register [username]", false, a.Register},
		{"login", "login [username]", false, a.Login},
		{"logout", "logout", true, a.Logout},
		{"add", "add [title]", true, a.Add},
		{"edit", "edit <syncID>", true, a.Edit},
		{"attach", "attach <syncID> <path>", true, a.Attach},
		{"detach", "detach <syncID> <fileName>", true, a.Detach},
		{"list", "list", true, a.List},
		{"show", "show <syncID>", true, a.Show},
		{"delete", "delete <syncID>", true, a.Delete},
		{"sync", "sync", true, a.Sync},
		{"status", "status", true, a.Status},
		{"conflicts", "conflicts", true, a.Conflicts},
		{"resolve", "resolve <conflictID> <localWins|remoteWins|keepBoth>", true, a.Resolve},
		{"migrate", "migrate [force|cleanup]", true, a.Migrate},
		{"rollback", "rollback <attachmentID|all>", true, a.Rollback},
		{"events", "events [count]", true, a.Events},
	}
}

func printHelp(w io.Writer, cmds []command, loggedIn bool) {
	fmt.Fprintln(w, "Available commands:")
	for _, c := range cmds {
		if c.auth != loggedIn {
			continue
		}
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
	fmt.Fprintln(w, "  help")
	fmt.Fprintln(w, "  exit | quit")
}

// runREPL starts a simple read–eval–print loop for the docsync CLI.
//
// It reads a line from reader, parses the first token as the command and
// dispatches the remaining tokens to the matching method of a. Commands
// that need a session are refused until login. Errors are reported back to
// the user and the loop continues. The loop exits on EOF or when the user
// types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	cmds := commands(a)
	byName := make(map[string]command, len(cmds))
	for _, c := range cmds {
		byName[c.name] = c
	}

	for {
		fmt.Fprintf(w, "docsync (%s)> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "help":
			printHelp(w, cmds, a.isLoggedIn())
			continue
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		}

		c, ok := byName[name]
		switch {
		case !ok:
			fmt.Fprintln(w, "Unknown command:", name)
		case c.auth && !a.isLoggedIn():
			fmt.Fprintln(w, "Please log in first")
		default:
			if err := c.run(ctx, args); err != nil {
				if errors.Is(err, errUsage) {
					fmt.Fprintln(w, "Usage:", c.usage)
				} else {
					fmt.Fprintln(w, "Error:", err)
				}
			}
		}
	}
}
