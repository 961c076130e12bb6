package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	data_portal "github.com/hexi/data-portal"
	"github.com/hexi/data-portal/internal/credstore"
	"github.com/hexi/data-portal/internal/history"
	"github.com/hexi/data-portal/internal/session"
	"github.com/hexi/data-portal/util"
)

// env wires together everything a command needs: config, the credential
// store, the download history and the session.
type env struct {
	config  data_portal.Config
	creds   credstore.Store
	history *history.Store
	session *session.Session
}

func newEnv(ctx context.Context, c *cli.Context) (*env, error) {
	config, err := data_portal.LoadConfig()
	if err != nil {
		return nil, err
	}
	if v := c.String("api-url"); v != "" {
		config.APIBaseURL = v
	}
	if v := c.String("state-dir"); v != "" {
		config.StateDir = v
	}
	if v := c.String("target"); v != "" {
		config.TargetDir = v
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	if err = os.MkdirAll(config.StateDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state dir %v: %w", config.StateDir, err)
	}

	e := &env{config: config}
	if e.creds, err = credstore.Open(config.CredentialsPath()); err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	if e.history, err = history.NewStore(config.HistoryPath(), zap.L()); err != nil {
		e.creds.Close()
		return nil, err
	}
	if err = e.history.Migrate(); err != nil {
		e.Close()
		return nil, err
	}

	sessConfig := session.DefaultConfig
	sessConfig.Store = e.creds
	sessConfig.NewClient = func(tokens data_portal.TokenSource) *data_portal.Client {
		return data_portal.NewClient(config.APIBaseURL, tokens)
	}
	sessConfig.RefreshInterval = config.RefreshInterval
	sessConfig.TargetDir = config.TargetDir
	sessConfig.MaxActiveDownloads = config.MaxActiveDownloads
	sessConfig.RateLimit = config.RateLimit
	sessConfig.History = e.history
	if e.session, err = session.New(ctx, sessConfig); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) Close() {
	if e.session != nil {
		e.session.Close()
	}
	if e.history != nil {
		_ = e.history.Close()
	}
	if e.creds != nil {
		_ = e.creds.Close()
	}
}

func loginCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "authenticate and remember the session",
		ArgsUsage: "USERNAME",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "password (prompted when omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			username := c.Args().First()
			password := c.String("password")
			if password == "" {
				if password, err = promptSecret("Password: "); err != nil {
					return err
				}
			}
			if err = e.session.Login(ctx, username, password); err != nil {
				return err
			}
			if e.session.IsAdmin() {
				fmt.Printf("logged in as %s (admin)\n", username)
			} else {
				fmt.Printf("logged in as %s\n", username)
			}
			return nil
		},
	}
}

func logoutCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "discard the remembered session",
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			// Works whether or not the token is still valid; nothing is sent.
			e.session.Logout()
			fmt.Println("logged out")
			return nil
		},
	}
}

func registerCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "request a new account (requires admin approval)",
		ArgsUsage: "USERNAME EMAIL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "password (prompted when omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			username, email := c.Args().Get(0), c.Args().Get(1)
			if username == "" || email == "" {
				return fmt.Errorf("username and email are required")
			}
			password := c.String("password")
			if password == "" {
				if password, err = promptSecret("Password: "); err != nil {
					return err
				}
			}
			message, err := e.session.Client().Register(ctx, username, email, password)
			if err != nil {
				return err
			}
			fmt.Println(message)
			return nil
		},
	}
}

func listCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a remote directory",
		ArgsUsage: "[PATH]",
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			listing, err := e.session.Client().ListFiles(ctx, c.Args().First())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, f := range listing.Files {
				kind, size := "d", "-"
				if f.IsFile {
					kind = "f"
					size = util.FormatBytes(f.Size)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, size, f.Modified, f.Name)
			}
			return w.Flush()
		},
	}
}

func getCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "download one or more remote files",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "save downloads to `DIR`",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			if c.Args().Len() == 0 {
				return fmt.Errorf("at least one remote path is required")
			}
			specs := make([]session.ItemSpec, 0, c.Args().Len())
			for _, remotePath := range c.Args().Slice() {
				name, err := util.FilenameFromPath(remotePath)
				if err != nil {
					return fmt.Errorf("%s: %w", remotePath, err)
				}
				specs = append(specs, session.ItemSpec{Path: remotePath, Name: name})
			}
			return download(ctx, e.session, specs)
		},
	}
}

// download runs a batch to completion, rendering aggregate progress to the
// terminal.
func download(ctx context.Context, ses *session.Session, specs []session.ItemSpec) error {
	logger := zap.S()
	batch, err := ses.AddBatch(specs)
	if err != nil {
		return err
	}
	events, err := batch.Subscribe()
	if err != nil {
		return err
	}

	bar := progressbar.Default(100, fmt.Sprintf("downloading %d file(s)", len(specs)))
	lastStates := make(map[session.ItemID]session.ItemState)
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		for event := range events.Receive() {
			switch ev := event.(type) {
			case session.ItemStarted:
				logger.Debugf("started: %s", ev.Item().Name())
			case session.ItemProgress:
				if old, ok := lastStates[ev.State.ID]; ok {
					if changes, err := diff.Diff(old, ev.State); err == nil {
						for _, change := range changes {
							logger.Debugf("%s %v: %v -> %v", ev.State.Name, change.Path, change.From, change.To)
						}
					}
				}
				lastStates[ev.State.ID] = ev.State
				snap := batch.Snapshot()
				_ = bar.Set(snap.ProgressPercent)
				bar.Describe(fmt.Sprintf("%s ETA %s", util.FormatSpeed(snap.SpeedBps), util.FormatETA(snap.ETASeconds)))
			case session.ItemFinished:
				switch ev.State.Status {
				case session.StatusCompleted:
					logger.Infof("completed: %s (%s)", ev.State.Name, util.FormatBytes(ev.State.Received))
				case session.StatusFailed:
					logger.Errorf("failed: %s: %v", ev.State.Name, ev.State.Err)
				case session.StatusCancelled:
					logger.Infof("cancelled: %s", ev.State.Name)
				}
			}
		}
	}()

	batch.Start()
	select {
	case <-batch.Done():
	case <-ctx.Done():
		logger.Info("cancelling...")
		batch.Cancel()
		<-batch.Done()
	}
	<-watcher

	snap := batch.Snapshot()
	_ = bar.Set(snap.ProgressPercent)
	_ = bar.Finish()
	fmt.Printf("\n%d/%d completed\n", snap.CompletedItems, snap.TotalItems)
	return batch.Err()
}

func shareCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "share",
		Usage:     "print a shareable download link for a remote path",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "folder",
				Usage: "the path is a folder",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			remotePath := c.Args().First()
			if remotePath == "" {
				return fmt.Errorf("a remote path is required")
			}
			fmt.Println(e.session.Client().ShareLink(remotePath, c.Bool("folder")))
			return nil
		},
	}
}

func keysCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "manage API keys",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list API keys",
				Action: func(c *cli.Context) error {
					e, err := newEnv(ctx, c)
					if err != nil {
						return err
					}
					defer e.Close()
					keys, err := e.session.Client().ListKeys(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tCREATED\tEXPIRES\tLAST USED")
					for _, k := range keys {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.KeyID, k.Name, k.CreatedAt, k.ExpiryDate, k.LastUsed)
					}
					return w.Flush()
				},
			},
			{
				Name:      "new",
				Usage:     "create an API key; the key material is only shown once",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					e, err := newEnv(ctx, c)
					if err != nil {
						return err
					}
					defer e.Close()
					name := c.Args().First()
					if name == "" {
						return fmt.Errorf("a key name is required")
					}
					key, err := e.session.Client().CreateKey(ctx, name)
					if err != nil {
						return err
					}
					fmt.Println(key)
					return nil
				},
			},
			{
				Name:      "rm",
				Usage:     "delete an API key",
				ArgsUsage: "ID",
				Action: func(c *cli.Context) error {
					e, err := newEnv(ctx, c)
					if err != nil {
						return err
					}
					defer e.Close()
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("a key ID is required")
					}
					return e.session.Client().DeleteKey(ctx, id)
				},
			},
		},
	}
}

func adminCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "administer pending registrations",
		Subcommands: []*cli.Command{
			{
				Name:  "pending",
				Usage: "list users awaiting approval",
				Action: func(c *cli.Context) error {
					e, err := newEnv(ctx, c)
					if err != nil {
						return err
					}
					defer e.Close()
					users, err := e.session.Client().PendingUsers(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tREGISTERED")
					for _, u := range users {
						fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, u.CreatedAt)
					}
					return w.Flush()
				},
			},
			adminActionCommand(ctx, "approve", "approve a pending registration",
				func(ctx context.Context, client *data_portal.Client, id int64) (string, error) {
					return client.ApproveUser(ctx, id)
				}),
			adminActionCommand(ctx, "reject", "reject a pending registration",
				func(ctx context.Context, client *data_portal.Client, id int64) (string, error) {
					return client.RejectUser(ctx, id)
				}),
		},
	}
}

func adminActionCommand(ctx context.Context, name, usage string, action func(context.Context, *data_portal.Client, int64) (string, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "USER_ID",
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("a numeric user ID is required: %w", err)
			}
			username, err := action(ctx, e.session.Client(), id)
			if err != nil {
				return err
			}
			fmt.Printf("%sed: %s\n", strings.TrimSuffix(name, "e"), username)
			return nil
		},
	}
}

func profileCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "show or update the user profile",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "set the contact email"},
			&cli.StringFlag{Name: "full-name", Usage: "set the full name"},
			&cli.StringFlag{Name: "organization", Usage: "set the organization"},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			client := e.session.Client()
			profile, err := client.Profile(ctx)
			if err != nil {
				return err
			}
			if c.IsSet("email") || c.IsSet("full-name") || c.IsSet("organization") {
				if c.IsSet("email") {
					profile.Email = c.String("email")
				}
				if c.IsSet("full-name") {
					profile.FullName = c.String("full-name")
				}
				if c.IsSet("organization") {
					profile.Organization = c.String("organization")
				}
				if profile, err = client.UpdateProfile(ctx, profile); err != nil {
					return err
				}
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "username\t%s\n", profile.Username)
			fmt.Fprintf(w, "email\t%s\n", profile.Email)
			fmt.Fprintf(w, "full name\t%s\n", profile.FullName)
			fmt.Fprintf(w, "organization\t%s\n", profile.Organization)
			return w.Flush()
		},
	}
}

func statusCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show session and configuration state",
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "backend\t%s\n", e.config.APIBaseURL)
			fmt.Fprintf(w, "state dir\t%s\n", e.config.StateDir)
			if e.session.LoggedIn() {
				fmt.Fprintf(w, "logged in\tyes (admin: %t)\n", e.session.IsAdmin())
			} else {
				fmt.Fprintf(w, "logged in\tno\n")
			}
			return w.Flush()
		},
	}
}

func historyCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show past downloads",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "show at most `N` records",
			},
			&cli.StringFlag{
				Name:  "batch",
				Usage: "only records from batch `ID`",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(ctx, c)
			if err != nil {
				return err
			}
			defer e.Close()
			var records []history.DownloadRecord
			if batchID := c.String("batch"); batchID != "" {
				records, err = e.history.ByBatch(batchID)
			} else {
				records, err = e.history.Recent(c.Int("limit"))
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tSTATUS\tSIZE\tNAME")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.FinishedAt.Format("2006-01-02 15:04:05"), r.Status, util.FormatBytes(r.Bytes), r.Name)
			}
			return w.Flush()
		},
	}
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
