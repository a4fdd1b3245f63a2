package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errVerifyMismatch) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}

// describeError appends the next step a user can take for the errors that
// have one.
func describeError(err error) string {
	msg := err.Error()

	var ae *auth.Error
	if !errors.As(err, &ae) || ae.Provider == "" {
		return msg
	}

	p := ae.Provider

	switch {
	case errors.Is(err, auth.ErrNotConnected):
		return fmt.Sprintf("%s\nRun 'clipcloud connect %s' first.", msg, p)
	case errors.Is(err, auth.ErrAuthenticationExpired):
		return fmt.Sprintf("%s\nThe %s session expired. Run 'clipcloud connect %s' again.", msg, p.DisplayName(), p)
	case errors.Is(err, auth.ErrConfiguration) && ae.Code == "":
		return fmt.Sprintf("%s\nSet [providers.%s] client_id in the config file or %s.", msg, p, config.ClientIDEnv(p))
	default:
		return msg
	}
}
