package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/common"
)

func (a *App) credentials(args []string) (string, []byte, error) {
	userName := ""
	if len(args) > 0 {
		userName = args[0]
	} else {
		var err error
		if userName, err = a.ask("Username"); err != nil {
			return "", nil, err
		}
	}
	if userName == "" {
		return "", nil, errUsage
	}
	password, err := a.askPassword()
	if err != nil {
		return "", nil, err
	}
	return userName, password, nil
}

func (a *App) Register(ctx context.Context, args []string) error {
	userName, password, err := a.credentials(args)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	id, err := a.auth.Register(ctx, userName, string(password))
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	fmt.Fprintf(a.out, "Registered %s (id %s). You can log in now.\n", userName, id)
	return nil
}

// Login signs in and starts background sync. A running session of another
// user is ended first.
func (a *App) Login(ctx context.Context, args []string) error {
	userName, password, err := a.credentials(args)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if a.session != nil {
		if err := a.endSession(ctx); err != nil {
			a.logger.Warn(ctx, "failed to end previous session", "error", err)
		}
	}

	if err := a.auth.Login(ctx, userName, string(password)); err != nil {
		return fmt.Errorf("login unsuccessful: %w", err)
	}
	a.resolver.Invalidate()
	if err := a.startSession(ctx); err != nil {
		a.session, a.engine, a.migrator = nil, nil, nil
		a.auth.Logout()
		a.resolver.Invalidate()
		return err
	}
	a.userName = userName
	fmt.Fprintf(a.out, "Logged in as %s\n", userName)
	return nil
}

func (a *App) Logout(ctx context.Context, _ []string) error {
	if err := a.endSession(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}
