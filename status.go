package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/config"
	"github.com/tonimelisma/clipcloud/internal/queue"
)

// Token state constants for status reporting.
const (
	tokenStateValid     = "valid"
	tokenStateExpiring  = "expiring"
	tokenStateExpired   = "expired"
	tokenStateRefresh   = "expired, will refresh"
	tokenStateNoExpiry  = "valid, no expiry"
	tokenExpiringWithin = 10 * time.Minute
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show accounts, queue totals and whether serve is running",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Accounts []accountOutput `json:"accounts"`
	Queue    map[string]int  `json:"queue"`
	Serve    serveStatus     `json:"serve"`
}

type serveStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Listen  string `json:"listen"`
	Watch   string `json:"watch_dir,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openQueueSession(cmd.Context(), cc, queueReadOnly)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := statusOutput{
		Queue: queueCounts(sess.queue.Jobs()),
		Serve: serveStatus{Listen: cc.Cfg.Serve.Listen, Watch: cc.Cfg.Watch.Dir},
	}

	for _, p := range auth.AllProviders {
		entry, err := describeAccount(cmd, sess, p, false)
		if err != nil {
			return err
		}

		out.Accounts = append(out.Accounts, entry)
	}

	if pid, alive := runningPID(config.ServePIDPath(cc.Cfg.DataDir)); alive {
		out.Serve.Running = true
		out.Serve.PID = pid
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	printStatusText(out)

	return nil
}

func queueCounts(jobs []queue.Job) map[string]int {
	counts := make(map[string]int, len(queue.AllStatuses))
	for _, s := range queue.AllStatuses {
		counts[string(s)] = 0
	}

	for _, j := range jobs {
		counts[string(j.Status)]++
	}

	return counts
}

func printStatusText(out statusOutput) {
	fmt.Println("Accounts:")

	for _, a := range out.Accounts {
		state := "not connected"
		if a.Connected {
			state = a.Token
			if a.Email != "" {
				state = a.Email + ", token " + a.Token
			}
		}

		fmt.Printf("  %-10s %s\n", a.Provider, state)
	}

	fmt.Println("\nQueue:")

	for _, s := range queue.AllStatuses {
		fmt.Printf("  %-10s %d\n", s, out.Queue[string(s)])
	}

	fmt.Println()

	if out.Serve.Running {
		fmt.Printf("Serve: running (PID %d) on %s\n", out.Serve.PID, out.Serve.Listen)
	} else {
		fmt.Println("Serve: not running")
	}

	if out.Serve.Watch != "" {
		fmt.Printf("Watch: %s\n", out.Serve.Watch)
	}
}

// tokenState summarizes a credential's freshness for display.
func tokenState(cred *auth.Credential, now time.Time) string {
	switch {
	case !cred.HasExpiry():
		return tokenStateNoExpiry
	case cred.ExpiresAt.After(now.Add(tokenExpiringWithin)):
		return tokenStateValid
	case cred.ExpiresAt.After(now):
		return tokenStateExpiring
	case cred.CanRefresh():
		return tokenStateRefresh
	default:
		return tokenStateExpired
	}
}
