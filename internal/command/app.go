// Package command is the tenon-cli command tree. It drives the candidate and
// recruiter flows against a running BFF.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/tenon/internal/app/candidate"
	"github.com/okian/tenon/internal/app/dashboard"
	"github.com/okian/tenon/internal/config"
	"github.com/okian/tenon/internal/domain/draft"
	"github.com/okian/tenon/internal/domain/model"
	"github.com/okian/tenon/pkg/logger"
)

const (
	defaultTab = "default"
	metaConfig = "config"
)

// settings returns the loaded configuration with the global flags applied.
func settings(c *cli.Context) (cfg config.Config, baseURL, statePath string) {
	if loaded, ok := c.App.Metadata[metaConfig].(*config.Config); ok {
		cfg = *loaded
	} else {
		cfg = *config.New(c.Context)
	}
	baseURL, statePath = cfg.PublicBaseURL, cfg.StatePath
	if c.IsSet("url") {
		baseURL = c.String("url")
	}
	if c.IsSet("state") {
		statePath = c.String("state")
	}
	return cfg, baseURL, statePath
}

// BuildApp returns the tenon-cli application.
func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "tenon-cli",
		Usage: "drive candidate and recruiter flows against a tenon BFF",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", EnvVars: []string{"TENON_URL"}, Usage: "BFF base URL (default public_base_url)"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"TENON_ACCESS_TOKEN"}, Usage: "bearer access token"},
			&cli.StringFlag{Name: "state", Usage: "sqlite file holding session state (default state_path, memory when empty)"},
			&cli.StringFlag{Name: "tab", Value: defaultTab, Usage: "storage scope standing in for a browser tab"},
			&cli.BoolFlag{Name: "verbose", Usage: "log debug output to stderr"},
		},
		// Errors are returned to the caller, which decides how to exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Before: func(c *cli.Context) error {
			if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			level := "warn"
			if c.Bool("verbose") {
				level = "debug"
			}
			if err := logger.SetLevelString(level); err != nil {
				return err
			}
			cfg, err := deps.config(c.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if c.App.Metadata == nil {
				c.App.Metadata = map[string]any{}
			}
			c.App.Metadata[metaConfig] = cfg
			return nil
		},
		Commands: []*cli.Command{
			candidateCommand(deps),
			recruiterCommand(deps),
		},
	}
}

func candidateCommand(deps Deps) *cli.Command {
	answer := []cli.Flag{
		&cli.StringFlag{Name: "text", Usage: "text answer"},
		&cli.StringFlag{Name: "code", Usage: "code answer"},
	}
	return &cli.Command{
		Name:      "candidate",
		Usage:     "candidate invite flow",
		ArgsUsage: "<invite-token>",
		Subcommands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "resolve the invite and show where the session is",
				ArgsUsage: "<invite-token>",
				Action: withController(deps, func(ctx context.Context, c *cli.Context, ctl *candidate.Controller) error {
					return printSnapshot(deps.out(), ctl.Snapshot())
				}),
			},
			{
				Name:      "verify",
				Usage:     "verify the signed-in email for the invite",
				ArgsUsage: "<invite-token>",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "email", Required: true}},
				Action: withController(deps, func(ctx context.Context, c *cli.Context, ctl *candidate.Controller) error {
					if err := ctl.Verify(ctx, c.String("email")); err != nil {
						return cli.Exit(ctl.Snapshot().VerifyError, 1)
					}
					return printSnapshot(deps.out(), ctl.Snapshot())
				}),
			},
			{
				Name:      "start",
				Usage:     "start the simulation and load the first task",
				ArgsUsage: "<invite-token>",
				Action: withController(deps, func(ctx context.Context, c *cli.Context, ctl *candidate.Controller) error {
					ctl.Start(ctx)
					return printSnapshot(deps.out(), ctl.Snapshot())
				}),
			},
			{
				Name:      "draft",
				Usage:     "save a draft answer for the current task",
				ArgsUsage: "<invite-token>",
				Flags:     answer,
				Action: withController(deps, func(ctx context.Context, c *cli.Context, ctl *candidate.Controller) error {
					if ctl.Snapshot().State.Task.CurrentTask == nil {
						return cli.Exit(candidate.ErrNoCurrentTask.Error(), 1)
					}
					if !c.IsSet("text") && !c.IsSet("code") {
						d := ctl.Draft(ctx)
						_, err := fmt.Fprintf(deps.out(), "text: %s\ncode: %s\n", d.Text, d.Code)
						return err
					}
					ctl.UpdateDraft(ctx, draft.Draft{Text: c.String("text"), Code: c.String("code")})
					_, err := fmt.Fprintln(deps.out(), "draft saved")
					return err
				}),
			},
			{
				Name:      "submit",
				Usage:     "submit the current task (the saved draft when no answer is given)",
				ArgsUsage: "<invite-token>",
				Flags:     answer,
				Action: withController(deps, func(ctx context.Context, c *cli.Context, ctl *candidate.Controller) error {
					a := candidate.Answer{Text: c.String("text"), Code: c.String("code")}
					if !c.IsSet("text") && !c.IsSet("code") {
						d := ctl.Draft(ctx)
						a = candidate.Answer{Text: d.Text, Code: d.Code}
					}
					res, err := ctl.Submit(ctx, a)
					if err != nil {
						msg := ctl.Snapshot().SubmitError
						if msg == "" {
							msg = err.Error()
						}
						return cli.Exit(msg, 1)
					}
					_, err = fmt.Fprintf(deps.out(), "submitted task %d: %d/%d complete\n",
						res.TaskID, res.Progress.Completed, res.Progress.Total)
					return err
				}),
			},
		},
	}
}

type controllerAction func(ctx context.Context, c *cli.Context, ctl *candidate.Controller) error

// withController mounts a controller on the invite token argument, runs fn
// and closes the controller so pending drafts are written.
func withController(deps Deps, fn controllerAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		token := c.Args().First()
		if token == "" {
			return cli.Exit(candidate.ErrMissingInviteToken.Error(), 1)
		}
		ctx := c.Context
		log := logger.Named("cli")
		cfg, baseURL, statePath := settings(c)
		store, closeStore, err := deps.storage(ctx, statePath, c.String("tab"))
		if err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		defer func() {
			if cerr := closeStore(); cerr != nil {
				log.Warn(ctx, "close state", logger.Error(cerr))
			}
		}()

		bearer := c.String("token")
		ctl := candidate.New(deps.api(baseURL, bearer, log), store,
			candidate.WithLogger(log),
			candidate.WithAdvanceDelay(0),
			candidate.WithDraftDebounce(cfg.DraftDebounce()),
			candidate.WithAuthTokenSource(func(context.Context) (string, error) {
				if bearer == "" {
					return "", errors.New("no access token")
				}
				return bearer, nil
			}),
		)
		defer ctl.Close(ctx)

		ctl.Mount(ctx, token)
		if snap := ctl.Snapshot(); snap.AuthError != "" {
			return cli.Exit(snap.AuthError, 1)
		}
		return fn(ctx, c, ctl)
	}
}

func printSnapshot(w io.Writer, s candidate.Snapshot) error {
	ew := &errWriter{w: w}
	ew.printf("view: %s\n", s.View)
	if s.BootstrapError != "" {
		ew.printf("error: %s\n", s.BootstrapError)
	}
	if b := s.State.Bootstrap; b != nil {
		ew.printf("simulation: %s (%s)\n", b.Simulation.Title, b.Simulation.Role)
		ew.printf("status: %s\n", b.Status)
	}
	if id := s.State.SessionID(); id != 0 {
		ew.printf("candidate session: %d\n", id)
	}
	if s.State.Started {
		ew.printf("day: %d\n", s.DayIndex)
	}
	if t := s.State.Task.CurrentTask; t != nil {
		ew.printf("task %d [%s]: %s\n%s\n", t.ID, t.Type, t.Title, t.Description)
	}
	if s.State.Task.Error != "" {
		ew.printf("task error: %s\n", s.State.Task.Error)
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func recruiterCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "recruiter",
		Usage: "recruiter dashboard",
		Subcommands: []*cli.Command{
			{
				Name:  "dashboard",
				Usage: "show the profile and simulations",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "candidates", Usage: "also list invited candidates"}},
				Action: withDashboard(deps, func(ctx context.Context, c *cli.Context, d *dashboard.Dashboard) error {
					d.Refresh(ctx, false)
					st := d.State()
					ew := &errWriter{w: deps.out()}
					if st.Profile != nil {
						ew.printf("%s <%s> %s\n", st.Profile.Name, st.Profile.Email, st.Profile.Role)
					}
					if st.ProfileError != "" {
						ew.printf("profile error: %s\n", st.ProfileError)
					}
					if st.SimulationsError != "" {
						return cli.Exit(st.SimulationsError, 1)
					}
					if len(st.Simulations) == 0 {
						ew.printf("No simulations yet.\n")
					}
					for _, sim := range st.Simulations {
						ew.printf("%s\t%s\t%s\t%s\n", sim.ID, sim.Title, sim.Role, createdDate(sim.CreatedAt))
						if !c.Bool("candidates") {
							continue
						}
						list, err := d.Candidates(ctx, sim.ID)
						if err != nil {
							ew.printf("  %s\n", err.Error())
							continue
						}
						for _, cand := range list {
							ew.printf("  %d\t%s\t%s\t%s\n", cand.CandidateSessionID, cand.CandidateName, cand.InviteEmail, cand.Status)
						}
					}
					return ew.err
				}),
			},
			{
				Name:  "invite",
				Usage: "invite a candidate to a simulation",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "simulation", Required: true},
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "email"},
				},
				Action: withDashboard(deps, func(ctx context.Context, c *cli.Context, d *dashboard.Dashboard) error {
					d.OpenInvite(model.SimulationListItem{ID: c.String("simulation")})
					res, err := d.SubmitInvite(ctx, c.String("name"), c.String("email"))
					if err != nil {
						return cli.Exit(d.Invite().Message, 1)
					}
					_, err = fmt.Fprintf(deps.out(), "invite url: %s\ntoken: %s\ncandidate session: %d\n",
						res.InviteURL, res.Token, res.CandidateSessionID)
					return err
				}),
			},
			{
				Name:      "resend",
				Usage:     "resend a candidate's invite",
				ArgsUsage: "<candidate-session-id>",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "simulation", Required: true}},
				Action: withDashboard(deps, func(ctx context.Context, c *cli.Context, d *dashboard.Dashboard) error {
					csid, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil || csid <= 0 {
						return cli.Exit("a candidate session id is required", 1)
					}
					if err := d.Resend(ctx, c.String("simulation"), csid); err != nil {
						msg := err.Error()
						if t := d.Toast(); t != nil {
							msg = t.Message
						}
						return cli.Exit(fmt.Sprintf("%s (retry in %s)", msg, d.ResendCooldown(csid).Round(time.Second)), 1)
					}
					_, err = fmt.Fprintf(deps.out(), "invite resent; next resend in %s\n", d.ResendCooldown(csid).Round(time.Second))
					return err
				}),
			},
		},
	}
}

type dashboardAction func(ctx context.Context, c *cli.Context, d *dashboard.Dashboard) error

// withDashboard runs fn on a dashboard. A redirect to sign in or to the not
// authorized page ends the command with that page as the message.
func withDashboard(deps Deps, fn dashboardAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		log := logger.Named("cli")
		cfg, baseURL, _ := settings(c)
		var redirect string
		d := dashboard.New(deps.api(baseURL, c.String("token"), log),
			dashboard.WithLogger(log),
			dashboard.WithToastDismiss(cfg.ToastDismiss()),
			dashboard.WithCopyReset(cfg.CopyReset()),
			dashboard.WithResendFallback(cfg.ResendCooldownFallback()),
			dashboard.WithRedirect(func(target string) { redirect = target }),
		)
		defer d.Close()
		err := fn(c.Context, c, d)
		if redirect != "" {
			return cli.Exit("sign in required: "+redirect, 1)
		}
		return err
	}
}

func createdDate(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}
