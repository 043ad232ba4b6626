package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/latencymonitor/internal/domain"
	"github.com/hamed0406/latencymonitor/internal/scheduler"
	"github.com/hamed0406/latencymonitor/internal/stats"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		apiBase string
		timeout time.Duration
		c       *client
	)

	root := &cobra.Command{
		Use:           "latencyctl",
		Short:         "Manage tracked domains and read latency samples",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c = newClient(apiBase, timeout)
		},
	}
	root.SetOut(out)

	def := os.Getenv("API_BASE")
	if def == "" {
		def = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&apiBase, "api", def, "API base URL (env API_BASE)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	domains := &cobra.Command{Use: "domains", Short: "List, add or remove tracked domains"}
	domains.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tracked domains",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var ds []domain.TrackedDomain
				if err := c.get(cmd.Context(), "/api/domains", &ds); err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tADDED")
				for _, d := range ds {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", d.ID, d.Name, d.AddedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "add NAME",
			Short: "Start tracking a domain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var d domain.TrackedDomain
				if err := c.do(cmd.Context(), "POST", "/api/domains", map[string]string{"name": args[0]}, &d); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", d.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm NAME",
			Aliases: []string{"remove"},
			Short:   "Stop tracking a domain (history is kept)",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var res struct {
					Success bool `json:"success"`
				}
				if err := c.do(cmd.Context(), "DELETE", "/api/domains/"+escape(args[0]), nil, &res); err != nil {
					return err
				}
				if !res.Success {
					fmt.Fprintf(cmd.OutOrStdout(), "%s was not tracked\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			},
		},
	)

	var days int
	latency := &cobra.Command{
		Use:   "latency",
		Short: "Summarize stored samples per domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var samples []domain.LatencySample
			if err := c.get(cmd.Context(), "/api/latency?days="+strconv.Itoa(days), &samples); err != nil {
				return err
			}
			writeSummary(cmd.OutOrStdout(), samples)
			return nil
		},
	}
	latency.Flags().IntVar(&days, "days", 30, "window in days")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show tracked domains and the last cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st struct {
				Status    string                 `json:"status"`
				Domains   []string               `json:"domains"`
				LastCycle *scheduler.CycleReport `json:"last_cycle"`
			}
			if err := c.get(cmd.Context(), "/api/status", &st); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status: %s\ndomains: %d\n", st.Status, len(st.Domains))
			if st.LastCycle != nil {
				writeCycle(w, *st.LastCycle)
			} else {
				fmt.Fprintln(w, "last cycle: none yet")
			}
			return nil
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one probe cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rep scheduler.CycleReport
			if err := c.do(cmd.Context(), "POST", "/api/probe", nil, &rep); err != nil {
				return err
			}
			writeCycle(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show probe outcome counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var counters map[string]stats.Counters
			if err := c.get(cmd.Context(), "/api/stats", &counters); err != nil {
				return err
			}
			names := make([]string, 0, len(counters))
			for n := range counters {
				names = append(names, n)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tOK\tUNREACHABLE\tTIMEOUT\tUNPARSABLE\tERROR")
			for _, n := range names {
				k := counters[n]
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", n, k.OK, k.Unreachable, k.Timeout, k.Unparsable, k.Error)
			}
			return tw.Flush()
		},
	}

	root.AddCommand(domains, latency, status, probeCmd, statsCmd)
	return root
}

func writeCycle(w io.Writer, rep scheduler.CycleReport) {
	fmt.Fprintf(w, "cycle: %d domains, %d samples, %d failures, %d purged (%s)\n",
		rep.Domains, rep.Samples, len(rep.Failures), rep.Purged,
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	names := make([]string, 0, len(rep.Failures))
	for n := range rep.Failures {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s: %s\n", n, rep.Failures[n])
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "error: %s\n", rep.Error)
	}
}

type summary struct {
	count         int
	min, max, sum float64
	last          time.Time
}

func writeSummary(w io.Writer, samples []domain.LatencySample) {
	by := map[string]*summary{}
	for _, s := range samples {
		sm, ok := by[s.Domain]
		if !ok {
			sm = &summary{min: s.LatencyMS, max: s.LatencyMS}
			by[s.Domain] = sm
		}
		sm.count++
		sm.sum += s.LatencyMS
		if s.LatencyMS < sm.min {
			sm.min = s.LatencyMS
		}
		if s.LatencyMS > sm.max {
			sm.max = s.LatencyMS
		}
		if s.Timestamp.After(sm.last) {
			sm.last = s.Timestamp
		}
	}
	names := make([]string, 0, len(by))
	for n := range by {
		names = append(names, n)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tSAMPLES\tMIN_MS\tAVG_MS\tMAX_MS\tLAST")
	for _, n := range names {
		sm := by[n]
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%s\n",
			n, sm.count, sm.min, sm.sum/float64(sm.count), sm.max, sm.last.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
