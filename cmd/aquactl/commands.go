package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"aquarium-dashboard/pkg/models"

	"github.com/spf13/cobra"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current system status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.dash.Status(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), st, func(w io.Writer) { writeStatus(w, st) })
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-probe every component and print the merged status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.dash.RefreshStatus(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), st, func(w io.Writer) { writeStatus(w, st) })
		},
	}
}

func (c *cli) challengesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "challenges",
		Short: "List challenges and their solved state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.dash.Challenges(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tTITLE")
				for _, ch := range list.Challenges {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ch.ID, ch.Status, ch.Name, ch.Title)
				}
				tw.Flush()
				fmt.Fprintf(w, "\n%d/%d solved\n", list.Solved, list.Total)
			})
		},
	}
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Run a challenge's validation check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			result, err := c.dash.Validate(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				verdict := "NOT FIXED"
				if result.IsValid {
					verdict = "FIXED"
				}
				fmt.Fprintf(w, "Challenge %d: %s\n", id, verdict)
				if result.Message != "" {
					fmt.Fprintln(w, result.Message)
				}
				for _, comp := range models.Components {
					if v, ok := result.SystemStatus[comp]; ok {
						fmt.Fprintf(w, "  %s -> %s\n", comp, v)
					}
				}
			})
		},
	}
}

func (c *cli) messageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <id>",
		Short: "Show the last validation message of a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			msg, err := c.dash.Message(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), msg, func(w io.Writer) {
				if !msg.Present {
					fmt.Fprintf(w, "Challenge %d has not been validated yet\n", id)
					return
				}
				fmt.Fprintln(w, msg.Message)
			})
		},
	}
}

func (c *cli) confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "confirm <id> <solution|lecture>",
		Short:     "Record that a spoiler was revealed",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(models.ConfirmSolution), string(models.ConfirmLecture)},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			kind := models.ConfirmKind(args[1])
			if !kind.Valid() {
				return fmt.Errorf("unknown confirmation kind %q (want solution or lecture)", args[1])
			}
			out, err := c.dash.Confirm(cmd.Context(), id, kind)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Challenge %d: solution=%t lecture=%t\n", out.ChallengeID, out.Solution, out.Lecture)
			})
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the solved-set so every challenge is pending again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.dash.ResetSolved(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Cleared %d solved challenge(s)\n", res.Cleared)
			})
		},
	}
}

// print writes v as indented JSON when --json is set, otherwise renders text.
func (c *cli) print(w io.Writer, v any, text func(io.Writer)) error {
	if !c.jsonOutput {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStatus(w io.Writer, st *models.SystemStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, comp := range models.Components {
		fmt.Fprintf(tw, "%s\t%s\n", comp, st.Get(comp))
	}
	fmt.Fprintf(tw, "overall\t%s\n", st.OverallStatus)
	fmt.Fprintf(tw, "last updated\t%s\n", st.LastUpdated)
	tw.Flush()
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid challenge id %q", s)
	}
	return id, nil
}
