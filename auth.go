package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/browser"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <provider>",
		Short: "Connect a cloud storage account (gdrive, onedrive, dropbox)",
		Long: `Sign in to a storage provider in the browser. The authorization code is
captured on a loopback listener and exchanged with PKCE; the resulting
credential replaces any earlier one for the same provider.

After connecting, the upload folder from folder_template is created.`,
		Args: cobra.ExactArgs(1),
		RunE: runConnect,
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <provider>",
		Short: "Revoke and forget the stored credential",
		Args:  cobra.ExactArgs(1),
		RunE:  runDisconnect,
	}
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami [provider]",
		Short: "Show connected accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWhoami,
	}

	cmd.Flags().Bool("check", false, "probe each account against the provider API")

	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	p, err := auth.ParseProvider(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	loopback := browser.NewLoopback(cc.Cfg.Auth.CallbackPort, nil, cc.Logger)

	flow, err := sess.registry.Flow(p, loopback, loopback)
	if err != nil {
		return err
	}

	flow.SetObserver(func(p auth.Provider, s auth.FlowState) {
		cc.Logger.Info("connect", "provider", p.String(), "state", s.String())
	})

	cc.Statusf("Connecting to %s. Finish signing in in your browser.\n", p.DisplayName())

	cred, err := flow.Start(ctx, sess.registry.ClientConfig(p))
	if err != nil {
		return err
	}

	adapter, err := sess.registry.Adapter(p)
	if err != nil {
		return err
	}

	root, err := adapter.EnsureRoot(ctx, sess.registry.FolderTemplate(p), cred)
	if err != nil {
		// The credential is saved; the folder is created again on first upload.
		cc.Logger.Warn("creating upload folder failed", "provider", p.String(), "error", err)
	}

	cc.Statusf("Connected to %s%s.\n", p.DisplayName(), accountSuffix(cred))

	if root != "" {
		cc.Statusf("Uploads go to %s\n", root)
	}

	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	p, err := auth.ParseProvider(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	cred, err := sess.registry.Store().Get(p)
	if err != nil {
		return err
	}

	if cred == nil {
		cc.Statusf("%s is not connected.\n", p.DisplayName())
		return nil
	}

	if err := sess.registry.Refresher().Disconnect(cmd.Context(), p); err != nil {
		return err
	}

	cc.Statusf("Disconnected %s%s.\n", p.DisplayName(), accountSuffix(cred))

	return nil
}

// accountOutput is the JSON schema for one entry of `whoami --json`.
type accountOutput struct {
	Provider  auth.Provider `json:"provider"`
	Connected bool          `json:"connected"`
	Email     string        `json:"email,omitempty"`
	Name      string        `json:"name,omitempty"`
	Token     string        `json:"token_state,omitempty"`
	ExpiresAt time.Time     `json:"expires_at,omitzero"`
	Scopes    []string      `json:"scopes,omitempty"`
	Probe     string        `json:"probe,omitempty"`
}

func runWhoami(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	check, _ := cmd.Flags().GetBool("check")

	targets := auth.AllProviders

	if len(args) == 1 {
		p, err := auth.ParseProvider(args[0])
		if err != nil {
			return err
		}

		targets = []auth.Provider{p}
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := make([]accountOutput, 0, len(targets))

	for _, p := range targets {
		entry, err := describeAccount(cmd, sess, p, check)
		if err != nil {
			return err
		}

		out = append(out, entry)
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	for _, a := range out {
		printAccountText(a)
	}

	return nil
}

func describeAccount(cmd *cobra.Command, sess *session, p auth.Provider, check bool) (accountOutput, error) {
	entry := accountOutput{Provider: p}

	cred, err := sess.registry.Store().Get(p)
	if err != nil {
		return entry, err
	}

	if cred == nil {
		return entry, nil
	}

	entry.Connected = true
	entry.Email = cred.AccountEmail
	entry.Name = cred.AccountName
	entry.Token = tokenState(cred, time.Now())
	entry.ExpiresAt = cred.ExpiresAt
	entry.Scopes = cred.Scopes

	if !check {
		return entry, nil
	}

	entry.Probe = "ok"

	fresh, err := sess.registry.Credential(cmd.Context(), p)
	if err == nil {
		adapter, aerr := sess.registry.Adapter(p)
		if aerr != nil {
			return entry, aerr
		}

		err = adapter.Init(cmd.Context(), fresh)
	}

	if err != nil {
		entry.Probe = err.Error()
	}

	return entry, nil
}

func printAccountText(a accountOutput) {
	if !a.Connected {
		fmt.Printf("%-10s not connected\n", a.Provider)
		return
	}

	who := a.Email
	if a.Name != "" && who != "" {
		who = fmt.Sprintf("%s (%s)", a.Name, a.Email)
	} else if who == "" {
		who = a.Name
	}

	if who == "" {
		who = "(account unknown)"
	}

	fmt.Printf("%-10s %s\n", a.Provider, who)
	fmt.Printf("%-10s token %s", "", a.Token)

	if !a.ExpiresAt.IsZero() {
		fmt.Printf(", expires %s", formatTime(a.ExpiresAt))
	}

	fmt.Println()

	if a.Probe != "" {
		fmt.Printf("%-10s probe: %s\n", "", a.Probe)
	}
}

func accountSuffix(cred *auth.Credential) string {
	if cred == nil || cred.AccountEmail == "" {
		return ""
	}

	return " as " + cred.AccountEmail
}
