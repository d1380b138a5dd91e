package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	loggedIn bool
	fail     error

	calls []string
	args  map[string][]string
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	if f.args == nil {
		f.args = make(map[string][]string)
	}
	f.args[name] = args
	return f.fail
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Register(_ context.Context, args []string) error {
	return f.record("register", args)
}
func (f *fakeExec) Login(_ context.Context, args []string) error {
	f.loggedIn = true
	return f.record("login", args)
}
func (f *fakeExec) Logout(_ context.Context, args []string) error {
	f.loggedIn = false
	return f.record("logout", args)
}
func (f *fakeExec) Add(_ context.Context, args []string) error    { return f.record("add", args) }
func (f *fakeExec) Edit(_ context.Context, args []string) error   { return f.record("edit", args) }
func (f *fakeExec) Attach(_ context.Context, args []string) error { return f.record("attach", args) }
func (f *fakeExec) Detach(_ context.Context, args []string) error { return f.record("detach", args) }
func (f *fakeExec) List(_ context.Context, args []string) error   { return f.record("list", args) }
func (f *fakeExec) Show(_ context.Context, args []string) error   { return f.record("show", args) }
func (f *fakeExec) Delete(_ context.Context, args []string) error { return f.record("delete", args) }
func (f *fakeExec) Sync(_ context.Context, args []string) error   { return f.record("sync", args) }
func (f *fakeExec) Status(_ context.Context, args []string) error { return f.record("status", args) }
func (f *fakeExec) Conflicts(_ context.Context, args []string) error {
	return f.record("conflicts", args)
}
func (f *fakeExec) Resolve(_ context.Context, args []string) error {
	return f.record("resolve", args)
}
func (f *fakeExec) Migrate(_ context.Context, args []string) error {
	return f.record("migrate", args)
}
func (f *fakeExec) Rollback(_ context.Context, args []string) error {
	return f.record("rollback", args)
}
func (f *fakeExec) Events(_ context.Context, args []string) error { return f.record("events", args) }

func script(lines ...string) string { return strings.Join(lines, "\n") + "\n" }

func TestRunREPL_LoginFlowAndCommands(t *testing.T) {
	exec := &fakeExec{}
	var out bytes.Buffer

	runREPL(context.Background(), exec, func() string { return "status" }, rdr(script(
		"help",
		"list",
		"login alice",
		"help",
		"add Passport scan",
		"attach abc /tmp/scan.pdf",
		"resolve c1 localWins",
		"sync",
		"foobar",
		"logout",
		"exit",
		"list",
	)), &out)

	assert.Equal(t, []string{"login", "add", "attach", "resolve", "sync", "logout"}, exec.calls)
	assert.Equal(t, []string{"alice"}, exec.args["login"])
	assert.Equal(t, []string{"Passport", "scan"}, exec.args["add"])
	assert.Equal(t, []string{"abc", "/tmp/scan.pdf"}, exec.args["attach"])

	s := out.String()
	assert.Contains(t, s, "docsync (status)> ")
	assert.Contains(t, s, "Please log in first")
	assert.Contains(t, s, "Unknown command: foobar")
	assert.Contains(t, s, "Bye!")
	assert.Contains(t, s, "resolve <conflictID>")
}

func TestRunREPL_ReportsErrors(t *testing.T) {
	exec := &fakeExec{loggedIn: true, fail: errUsage}
	var out bytes.Buffer

	runREPL(context.Background(), exec, func() string { return "" }, rdr(script("show")), &out)
	assert.Contains(t, out.String(), "Usage: show <syncID>")

	out.Reset()
	exec.fail = errors.New("boom")
	runREPL(context.Background(), exec, func() string { return "" }, rdr("delete x"), &out)
	assert.Contains(t, out.String(), "Error: boom")
	require.Equal(t, []string{"show", "delete"}, exec.calls)
}

func TestRunREPL_EOFStops(t *testing.T) {
	exec := &fakeExec{}
	var out bytes.Buffer
	runREPL(context.Background(), exec, func() string { return "" }, rdr(""), &out)
	assert.Empty(t, exec.calls)
}

func TestPrintHelp_DependsOnLogin(t *testing.T) {
	cmds := commands(&fakeExec{})

	var out bytes.Buffer
	printHelp(&out, cmds, false)
	assert.Contains(t, out.String(), "login [username]")
	assert.NotContains(t, out.String(), "sync")

	out.Reset()
	printHelp(&out, cmds, true)
	assert.Contains(t, out.String(), "sync")
	assert.Contains(t, out.String(), "migrate [force|cleanup]")
	assert.NotContains(t, out.String(), "register")
}
