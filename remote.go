package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/queue"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// errVerifyMismatch makes `verify` exit 1 without an error message; the
// report has already been printed.
var errVerifyMismatch = errors.New("verification failed")

// errNotUploaded means a job was named where an uploaded object is needed.
var errNotUploaded = errors.New("job has not been uploaded")

const targetHelp = `<target> is a job id (or unique prefix) of a completed upload, or
<provider>:<object-id> for any remote object, e.g. dropbox:id:a4ayc_80_OEAAAAAAAAAXw.`

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <target>",
		Short: "Create a view link for an uploaded file",
		Long: `Create a link anyone can use to view the file.

` + targetHelp + `

--expires accepts Go durations plus a "d" suffix for days (e.g. 12h, 7d).
Providers that cannot expire links refuse the flag rather than ignore it.`,
		Args: cobra.ExactArgs(1),
		RunE: runShare,
	}

	cmd.Flags().String("expires", "", "link lifetime, e.g. 7d (default: no expiry)")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <target>",
		Short: "Check that an uploaded file exists and matches its local copy",
		Long: `Check an uploaded file against the provider. For a job whose local file still
exists, the provider's content hash is compared as well.

` + targetHelp + `

Exit code 0 when the file verifies, 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().String("checksum", "", "expected provider-native content hash")

	return cmd
}

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes <provider>",
		Short: "Show remote changes since the last call",
		Long: `Read the provider's change feed from the saved cursor. The first call only
records a cursor; later calls list what changed since. An expired cursor is
discarded and the feed starts over.`,
		Args: cobra.ExactArgs(1),
		RunE: runChanges,
	}

	cmd.Flags().Bool("reset", false, "forget the saved cursor first")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <target> <new-parent-path>",
		Short: "Move an uploaded file to another folder",
		Long:  "Move a remote file. The destination folder must exist.\n\n" + targetHelp,
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <target> <new-name>",
		Short: "Rename an uploaded file in place",
		Long:  "Rename a remote file.\n\n" + targetHelp,
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <target>",
		Short: "Delete an uploaded file from the provider",
		Long: `Delete a remote file. Providers move it to their trash where they have one.
Deleting a file that is already gone succeeds.

` + targetHelp,
		Args: cobra.ExactArgs(1),
		RunE: runDelete,
	}
}

// target is a remote object named on the command line.
type target struct {
	provider auth.Provider
	objectID string
	job      *queue.Job // set when named by job id
}

// resolveTarget parses "<provider>:<object-id>" or a job id prefix.
func resolveTarget(jobs []queue.Job, arg string) (target, error) {
	if prefix, id, ok := strings.Cut(arg, ":"); ok {
		if p, err := auth.ParseProvider(prefix); err == nil {
			if id == "" {
				return target{}, fmt.Errorf("missing object id after %q", prefix+":")
			}

			return target{provider: p, objectID: id}, nil
		}
	}

	jobID, err := resolveJobID(jobs, arg)
	if err != nil {
		return target{}, err
	}

	for i := range jobs {
		if jobs[i].ID != jobID {
			continue
		}

		j := jobs[i]
		if j.ObjectID == "" {
			return target{}, fmt.Errorf("%w: %s is %s", errNotUploaded, shortID(j.ID), j.Status)
		}

		return target{provider: j.Provider, objectID: j.ObjectID, job: &j}, nil
	}

	return target{}, fmt.Errorf("%w: %s", queue.ErrJobNotFound, arg)
}

// remoteCall is the prologue shared by commands that act on one remote
// object: open the session, resolve the target, fetch a fresh credential.
func remoteCall(cmd *cobra.Command, arg string) (*session, target, storage.Adapter, *auth.Credential, error) {
	cc := mustCLIContext(cmd.Context())

	sess, err := openQueueSession(cmd.Context(), cc, queueReadOnly)
	if err != nil {
		return nil, target{}, nil, nil, err
	}

	tgt, err := resolveTarget(sess.queue.Jobs(), arg)
	if err != nil {
		sess.Close()
		return nil, target{}, nil, nil, err
	}

	adapter, cred, err := adapterAndCredential(cmd, sess, tgt.provider)
	if err != nil {
		sess.Close()
		return nil, target{}, nil, nil, err
	}

	return sess, tgt, adapter, cred, nil
}

func adapterAndCredential(cmd *cobra.Command, sess *session, p auth.Provider) (storage.Adapter, *auth.Credential, error) {
	adapter, err := sess.registry.Adapter(p)
	if err != nil {
		return nil, nil, err
	}

	cred, err := sess.registry.Credential(cmd.Context(), p)
	if cred == nil {
		return nil, nil, err
	}

	if err != nil {
		// A stale token still gets one unauthorized-retry inside the adapter.
		sess.cc.Logger.Warn("using stale credential", "provider", p.String(), "error", err)
	}

	return adapter, cred, nil
}

func runShare(cmd *cobra.Command, args []string) error {
	var expiresAt time.Time

	if raw, _ := cmd.Flags().GetString("expires"); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --expires %q: %w", raw, err)
		}

		expiresAt = time.Now().Add(d)
	}

	sess, tgt, adapter, cred, err := remoteCall(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	link, err := adapter.CreateShareLink(cmd.Context(), tgt.objectID, expiresAt, cred)
	if err != nil {
		if errors.Is(err, storage.ErrNotImplemented) && !expiresAt.IsZero() {
			return fmt.Errorf("%s cannot create expiring links; omit --expires: %w", tgt.provider.DisplayName(), err)
		}

		return err
	}

	if sess.cc.Flags.JSON {
		return printJSON(os.Stdout, map[string]any{
			"provider":   tgt.provider,
			"object_id":  tgt.objectID,
			"url":        link,
			"expires_at": expiresAt,
		})
	}

	fmt.Println(link)

	return nil
}

// verifyOutput is the JSON schema for `verify --json`.
type verifyOutput struct {
	Provider  auth.Provider `json:"provider"`
	ObjectID  string        `json:"object_id"`
	Checksum  string        `json:"checksum,omitempty"`
	Verified  bool          `json:"verified"`
	LocalPath string        `json:"local_path,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	sess, tgt, adapter, cred, err := remoteCall(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	checksum, _ := cmd.Flags().GetString("checksum")

	out := verifyOutput{Provider: tgt.provider, ObjectID: tgt.objectID}

	if checksum == "" && tgt.job != nil {
		out.LocalPath = tgt.job.LocalPath

		if _, statErr := os.Stat(tgt.job.LocalPath); statErr == nil {
			checksum, err = adapter.Checksum(ctx, tgt.job.LocalPath)
			if err != nil {
				return err
			}
		} else {
			sess.cc.Statusf("Local file %s is gone; checking existence only.\n", tgt.job.LocalPath)
		}
	}

	out.Checksum = checksum

	ok, err := adapter.Verify(ctx, tgt.objectID, checksum, cred)
	if err != nil {
		return err
	}

	out.Verified = ok

	if sess.cc.Flags.JSON {
		if err := printJSON(os.Stdout, out); err != nil {
			return err
		}
	} else {
		printVerifyText(out)
	}

	if !ok {
		return errVerifyMismatch
	}

	return nil
}

func printVerifyText(out verifyOutput) {
	what := "exists"
	if out.Checksum != "" {
		what = "matches"
	}

	if out.Verified {
		fmt.Printf("%s:%s %s\n", out.Provider, out.ObjectID, what)
		return
	}

	if out.Checksum != "" {
		fmt.Printf("%s:%s is missing or its content differs (expected %s)\n", out.Provider, out.ObjectID, out.Checksum)
		return
	}

	fmt.Printf("%s:%s is missing\n", out.Provider, out.ObjectID)
}

// changesOutput is the JSON schema for `changes --json`.
type changesOutput struct {
	Provider auth.Provider    `json:"provider"`
	Cursor   string           `json:"cursor"`
	Reset    bool             `json:"reset,omitempty"`
	Changes  []storage.Change `json:"changes"`
}

func runChanges(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	p, err := auth.ParseProvider(args[0])
	if err != nil {
		return err
	}

	sess, err := openQueueSession(ctx, cc, queueExclusive)
	if err != nil {
		return err
	}
	defer sess.Close()

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := sess.store.ClearCursor(ctx, p); err != nil {
			return err
		}
	}

	adapter, cred, err := adapterAndCredential(cmd, sess, p)
	if err != nil {
		return err
	}

	cursor, err := sess.store.Cursor(ctx, p)
	if err != nil {
		return err
	}

	out := changesOutput{Provider: p, Changes: []storage.Change{}}
	fresh := cursor == ""

	for {
		page, err := adapter.ListChanges(ctx, cursor, cred)
		if errors.Is(err, storage.ErrCursorExpired) && cursor != "" {
			cc.Logger.Warn("change cursor expired, starting over", "provider", p.String())

			out.Reset = true
			cursor = ""
			fresh = true

			continue
		}

		if err != nil {
			return err
		}

		out.Changes = append(out.Changes, page.Items...)
		cursor = page.Cursor

		if err := sess.store.SetCursor(ctx, p, cursor, time.Now()); err != nil {
			return err
		}

		if !page.HasMore {
			break
		}
	}

	out.Cursor = cursor

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	switch {
	case fresh && len(out.Changes) == 0:
		cc.Statusf("Change feed started for %s. Run again to see what changed.\n", p.DisplayName())
	case len(out.Changes) == 0:
		cc.Statusf("No changes.\n")
	default:
		printChangesTable(out.Changes)
	}

	return nil
}

func printChangesTable(changes []storage.Change) {
	headers := []string{"CHANGE", "TYPE", "SIZE", "MODIFIED", "PATH"}
	rows := make([][]string, 0, len(changes))

	for _, c := range changes {
		kind, typ, size, modified := "updated", "file", formatSize(c.Size), ""

		if c.Deleted {
			kind, size = "deleted", ""
		}

		if c.IsFolder {
			typ, size = "folder", ""
		}

		if !c.ModifiedAt.IsZero() {
			modified = formatTime(c.ModifiedAt)
		}

		name := c.Path
		if name == "" {
			name = c.Name
		}

		rows = append(rows, []string{kind, typ, size, modified, name})
	}

	printTable(os.Stdout, headers, rows)
}

func runMv(cmd *cobra.Command, args []string) error {
	parent, err := storage.CleanRemotePath(args[1])
	if err != nil {
		return err
	}

	sess, tgt, adapter, cred, err := remoteCall(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	meta, err := adapter.Move(cmd.Context(), tgt.objectID, parent, cred)
	if err != nil {
		return err
	}

	return printMeta(sess.cc, "Moved", tgt.provider, meta)
}

func runRename(cmd *cobra.Command, args []string) error {
	name := args[1]
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: new name %q must be a single path segment", storage.ErrInvalidPath, name)
	}

	sess, tgt, adapter, cred, err := remoteCall(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	meta, err := adapter.Rename(cmd.Context(), tgt.objectID, name, cred)
	if err != nil {
		return err
	}

	return printMeta(sess.cc, "Renamed", tgt.provider, meta)
}

func runDelete(cmd *cobra.Command, args []string) error {
	sess, tgt, adapter, cred, err := remoteCall(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := adapter.Delete(cmd.Context(), tgt.objectID, cred); err != nil {
		return err
	}

	sess.cc.Statusf("Deleted %s:%s\n", tgt.provider, tgt.objectID)

	return nil
}

func printMeta(cc *CLIContext, verb string, p auth.Provider, meta *storage.ObjectMeta) error {
	if cc.Flags.JSON {
		return printJSON(os.Stdout, meta)
	}

	where := meta.Path
	if where == "" {
		where = meta.Name
	}

	cc.Statusf("%s %s:%s -> %s\n", verb, p, meta.ID, where)

	return nil
}

// hoursPerDay is used to convert day durations to hours.
const hoursPerDay = 24

var (
	durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)
	durationPart    = regexp.MustCompile(`(\d+)([dhms])`)
)

// parseDuration parses Go duration syntax (e.g. "2h30m") plus a "d" suffix
// for days. The result must be positive.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, errors.New("duration must be positive")
		}

		return d, nil
	}

	if s == "" || !durationPattern.MatchString(s) {
		return 0, errors.New("expected format like 30m, 2h, 7d, or 1d12h")
	}

	var total time.Duration

	for _, match := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, errors.New("duration must be positive")
	}

	return total, nil
}
