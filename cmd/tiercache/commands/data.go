package commands

import (
	"fmt"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show tier availability, health and usage",
		Args:  cobra.NoArgs,
		RunE: o.withStore(func(cmd *cobra.Command, _ []string, s store) error {
			st, err := s.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if o.output == "json" {
				return printJSON(cmd.OutOrStdout(), st)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TYPE\tTIER\tAVAILABLE\tHEALTH\tUSAGE\tMAX\tUSED")
			for _, a := range st.Adapters {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
					a.Type, a.Tier, a.Available, a.Health,
					bytesOrDash(a.Usage), bytesOrDash(a.MaxSize), percentOf(a.Usage, a.MaxSize))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "\n%d keys\n", st.TotalKeys)
			return err
		}),
	}
}

func newKeysCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [prefix]",
		Short: "List keys across every tier",
		Args:  cobra.MaximumNArgs(1),
		RunE: o.withStore(func(cmd *cobra.Command, args []string, s store) error {
			var prefix string
			if len(args) == 1 {
				prefix = args[0]
			}
			keys, err := s.Keys(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if o.output == "json" {
				return printJSON(cmd.OutOrStdout(), keys)
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		}),
	}
}

func newGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the entry stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: o.withStore(func(cmd *cobra.Command, args []string, s store) error {
			e, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("key %q not found", args[0])
			}
			if o.output == "json" {
				return printJSON(cmd.OutOrStdout(), e)
			}
			return printEntry(cmd, e)
		}),
	}
}

func printEntry(cmd *cobra.Command, e *storage.Entry) error {
	written := time.UnixMilli(e.Timestamp)
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintf(tw, "written\t%s (%s)\n", written.Format(time.RFC3339), humanize.Time(written))
	if e.TTL > 0 {
		expires := written.Add(e.TTLDuration())
		fmt.Fprintf(tw, "expires\t%s (%s)\n", expires.Format(time.RFC3339), humanize.Time(expires))
	} else {
		fmt.Fprintln(tw, "expires\tnever")
	}
	if e.Version != "" {
		fmt.Fprintf(tw, "version\t%s\n", e.Version)
	}
	fmt.Fprintf(tw, "size\t%s\n", humanize.IBytes(uint64(len(e.Data))))
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", e.Data)
	return err
}

func newDelCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>...",
		Aliases: []string{"delete"},
		Short:   "Delete keys from every tier",
		Args:    cobra.MinimumNArgs(1),
		RunE: o.withStore(func(cmd *cobra.Command, args []string, s store) error {
			for _, k := range args {
				if err := s.Delete(cmd.Context(), k); err != nil {
					return fmt.Errorf("delete %q: %w", k, err)
				}
			}
			return nil
		}),
	}
}

func newClearCmd(o *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from every tier",
		Args:  cobra.NoArgs,
		RunE: o.withStore(func(cmd *cobra.Command, _ []string, s store) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			return s.Clear(cmd.Context())
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the cache")
	return cmd
}

func newInvalidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <kind> <id>",
		Short: "Drop every key derived from an entity, e.g. invalidate profile 42",
		Args:  cobra.ExactArgs(2),
		RunE: o.withStore(func(cmd *cobra.Command, args []string, s store) error {
			keys, err := s.Invalidate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if o.output == "json" {
				return printJSON(cmd.OutOrStdout(), keys)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys removed\n", len(keys))
			return nil
		}),
	}
}
