package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/harmoney/internal/app"
	"github.com/briangreenhill/harmoney/internal/config"
	"github.com/briangreenhill/harmoney/internal/member"
	"github.com/briangreenhill/harmoney/internal/obs"
	"github.com/briangreenhill/harmoney/internal/timespan"
)

var version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "harmoney",
		Short:        "Resolve members and inspect billing tokens",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.AddCommand(
		newResolveCmd(),
		newTokenCmd(),
		newSelectCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "harmoney %s\n", version)
			},
		},
	)
	return root
}

// setup loads the environment and builds the component graph, logging to stderr.
func setup(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, obs.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, "console"))
}

func newResolveCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Resolve a member by amisys id or directory id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			m, err := a.Resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}
			renderMember(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the member as JSON")
	return cmd
}

func renderMember(w io.Writer, m *member.Member) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"ID", m.ID},
		{"Member Code", m.MemberCode},
		{"Amisys ID", m.AmisysID},
		{"Name", strings.TrimSpace(m.FirstName + " " + m.LastName)},
		{"Date of Birth", m.DateOfBirth},
		{"Enrollment Source", m.EnrollmentSource},
		{"Plan HIOS ID", m.PlanHIOSID},
	})
	if len(m.Refs) > 0 {
		t.AppendSeparator()
		for _, ref := range m.Refs {
			t.AppendRow(table.Row{"Ref: " + ref.Source, ref.RefID})
		}
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <identity> <scope>",
		Short: "Issue (or reuse) a client-credentials token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			if _, ok := a.Identities.Get(args[0]); !ok {
				return fmt.Errorf("identity %q not configured, have %v", args[0], a.Identities.List())
			}
			tok, err := a.Token(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func newSelectCmd() *cobra.Command {
	var (
		modifier string
		at       string
	)
	cmd := &cobra.Command{
		Use:   "select <effective>/<end>...",
		Short: "Pick one span with a selection modifier",
		Example: "  harmoney select --modifier current --at 2024-06-01T00:00:00Z \\\n" +
			"    2024-01-01T00:00:00Z/2024-12-31T00:00:00Z 2025-01-01T00:00:00Z/2025-12-31T00:00:00Z",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := timespan.ParseModifier(modifier)
			if err != nil {
				return err
			}
			ref := time.Now().UTC()
			if at != "" {
				if ref, err = time.Parse(timespan.Layout, at); err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
			}
			spans := make([]timespan.Span, 0, len(args))
			for _, arg := range args {
				eff, end, ok := strings.Cut(arg, "/")
				if !ok {
					return fmt.Errorf("span %q: want <effective>/<end>", arg)
				}
				sp, err := timespan.Parse(eff, end, timespan.Layout)
				if err != nil {
					return fmt.Errorf("span %q: %w", arg, err)
				}
				spans = append(spans, sp)
			}
			sel, err := timespan.NewSelector(mod, ref)
			if err != nil {
				return err
			}
			sp, ok := timespan.Select(sel, spans)
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", sp.Effective.Format(timespan.Layout), sp.End.Format(timespan.Layout))
			return nil
		},
	}
	cmd.Flags().StringVar(&modifier, "modifier", string(timespan.Current), fmt.Sprintf("one of %v", timespan.Modifiers()))
	cmd.Flags().StringVar(&at, "at", "", "reference time (default now), e.g. 2024-06-01T00:00:00Z")
	return cmd
}
