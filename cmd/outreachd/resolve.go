package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/schedule"
	"github.com/spf13/cobra"
)

type resolveOptions struct {
	timezone   string
	quietStart string
	quietEnd   string
	base       string
	asJSON     bool
}

type resolveOutput struct {
	Base          time.Time `json:"base"`
	Candidate     time.Time `json:"candidate"`
	At            time.Time `json:"at"`
	Local         string    `json:"local"`
	QuietAdjusted bool      `json:"quiet_adjusted"`
	UTCFallback   bool      `json:"utc_fallback"`
	Error         string    `json:"error,omitempty"`
}

func newResolveCommand(root *rootOptions) *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:     "resolve <delay>",
		Short:   "Print the send time a schedule spec resolves to",
		Example: "outreachd resolve P3D --timezone America/New_York --quiet-start 20:00 --quiet-end 08:00",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := core.ScheduleSpec{Delay: args[0], Timezone: opts.timezone}
			if opts.quietStart != "" || opts.quietEnd != "" {
				spec.QuietHours = &core.QuietHours{Start: opts.quietStart, End: opts.quietEnd}
			}

			cfg, err := loadCoreConfig(cmd.Context(), root.settings)
			if err != nil {
				return err
			}
			resolver := schedule.NewResolver(
				schedule.WithDefaultTimezone(cfg.DefaultTimezone),
				schedule.WithUTCFallback(cfg.Schedule.UTCFallback),
			)
			if err := resolver.ValidateSpec(spec); err != nil {
				return err
			}

			base := time.Now().UTC()
			if opts.base != "" {
				parsed, err := time.Parse(time.RFC3339, opts.base)
				if err != nil {
					return fmt.Errorf("invalid --base: %w", err)
				}
				base = parsed.UTC()
			}

			resolution := resolver.Explain(cmd.Context(), spec, base)
			out := resolveOutput{
				Base:          resolution.Base,
				Candidate:     resolution.Candidate,
				At:            resolution.At,
				Local:         localTime(resolution.At, spec.Timezone, cfg.DefaultTimezone),
				QuietAdjusted: resolution.QuietAdjusted,
				UTCFallback:   resolution.UTCFallback,
			}
			if resolution.Err != nil {
				out.Error = resolution.Err.Error()
			}

			w := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Fprintf(w, "base:      %s\n", out.Base.Format(time.RFC3339))
			fmt.Fprintf(w, "candidate: %s\n", out.Candidate.Format(time.RFC3339))
			fmt.Fprintf(w, "at:        %s\n", out.At.Format(time.RFC3339))
			fmt.Fprintf(w, "local:     %s\n", out.Local)
			if out.QuietAdjusted {
				fmt.Fprintln(w, "moved out of quiet hours")
			}
			if out.Error != "" {
				fmt.Fprintf(w, "fallback:  %s\n", out.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.timezone, "timezone", "", "IANA time zone of the recipient")
	cmd.Flags().StringVar(&opts.quietStart, "quiet-start", "", "Quiet hours start (HH:MM)")
	cmd.Flags().StringVar(&opts.quietEnd, "quiet-end", "", "Quiet hours end (HH:MM)")
	cmd.Flags().StringVar(&opts.base, "base", "", "Base time in RFC 3339 (defaults to now)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print JSON")
	return cmd
}

func localTime(at time.Time, zone string, fallback string) string {
	if zone == "" {
		zone = fallback
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return at.UTC().Format("2006-01-02 15:04 MST")
	}
	return at.In(loc).Format("2006-01-02 15:04 MST")
}
