package client

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/common"
)

var (
	ErrUnavailable    = fmt.Errorf("server unavailable: %w", common.ErrNetworkTransient)
	ErrStreamClosed   = errors.New("change stream closed")
	ErrBatchMismatch  = errors.New("batch response does not match request")
	ErrNotLoggedIn    = fmt.Errorf("not logged in: %w", common.ErrNotAuthenticated)
	ErrSessionExpired = fmt.Errorf("session expired: %w", common.ErrNotAuthenticated)
)
