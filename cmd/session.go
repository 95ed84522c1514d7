package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/lectio/internal/quickcmd"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/tutor"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run a reading session from the terminal",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <content-id>",
	Short: "Start a session on stored content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app, userID string) error {
			res, err := a.tutor.StartSession(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s started (layer %s). Choose at least %d target words.\n",
				res.Session.ID, res.Session.AssetLayer, res.MinTargetWords)
			return nil
		})
	},
}

var sessionPreCmd = &cobra.Command{
	Use:   "pre <session-id>",
	Short: "Set the goal, prediction and target words, then start reading",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal, _ := cmd.Flags().GetString("goal")
		prediction, _ := cmd.Flags().GetString("prediction")
		words, _ := cmd.Flags().GetStringSlice("words")

		return withApp(cmd, func(a *app, userID string) error {
			s, err := a.tutor.UpdatePrePhase(cmd.Context(), args[0], userID, reading.PreReading{
				GoalStatement:  goal,
				PredictionText: prediction,
				TargetWords:    words,
			})
			if err != nil {
				return err
			}
			return printJSON(s)
		})
	},
}

var sessionSummaryCmd = &cobra.Command{
	Use:   "summary <session-id> <text...>",
	Short: "Save the reader's summary",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app, userID string) error {
			s, err := a.tutor.SaveSummary(cmd.Context(), args[0], userID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(s)
		})
	},
}

var sessionSayCmd = &cobra.Command{
	Use:   "say <session-id> <text...>",
	Short: "Send an utterance: a question, [[word]] / {{idea}} markup, or a /command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringToString("meta")
		verbose, _ := cmd.Flags().GetBool("verbose")

		return withApp(cmd, func(a *app, userID string) error {
			reply, err := a.tutor.ProcessUtterance(cmd.Context(), tutor.Utterance{
				SessionID: args[0],
				UserID:    userID,
				Text:      strings.Join(args[1:], " "),
				Metadata:  parseMeta(pairs),
			})
			if err != nil {
				return err
			}
			if verbose {
				return printJSON(reply)
			}

			fmt.Println(reply.Text)
			for i, q := range reply.QuickReplies {
				fmt.Printf("  %d) %s\n", i+1, q)
			}
			if reply.Degraded {
				fmt.Fprintln(os.Stderr, "(tutor unavailable, degraded reply)")
			}
			return nil
		})
	},
}

var sessionAdvanceCmd = &cobra.Command{
	Use:   "advance <session-id> <POST|FINISHED>",
	Short: "Move the session to the next phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := reading.Phase(strings.ToUpper(args[1]))
		return withApp(cmd, func(a *app, userID string) error {
			s, err := a.tutor.AdvancePhase(cmd.Context(), args[0], userID, to)
			if err != nil {
				return err
			}
			return printJSON(s)
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app, userID string) error {
			s, err := a.tutor.Session(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			return printJSON(s)
		})
	},
}

var sessionOutcomeCmd = &cobra.Command{
	Use:   "outcome <session-id>",
	Short: "Show the scores of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app, userID string) error {
			o, err := a.tutor.Outcome(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			fmt.Printf("Comprehension: %3d\n", o.ComprehensionScore)
			fmt.Printf("Production:    %3d\n", o.ProductionScore)
			fmt.Printf("Frustration:   %3d\n", o.FrustrationIndex)
			fmt.Printf("Computed:      %s\n", o.ComputedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

// withApp wires the application for a one-shot session command.
func withApp(cmd *cobra.Command, fn func(a *app, userID string) error) error {
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, userID)
}

// parseMeta turns --meta values into typed metadata: booleans and
// integers are converted, everything else stays a string.
func parseMeta(pairs map[string]string) quickcmd.Metadata {
	if len(pairs) == 0 {
		return nil
	}
	meta := make(quickcmd.Metadata, len(pairs))
	for k, v := range pairs {
		if b, err := strconv.ParseBool(v); err == nil {
			meta[k] = b
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			meta[k] = n
			continue
		}
		meta[k] = v
	}
	return meta
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultUser() string {
	if u := os.Getenv("LECTIO_USER"); u != "" {
		return u
	}
	return "local"
}

func init() {
	sessionCmd.PersistentFlags().StringP("user", "u", defaultUser(), "Reader user id (default $LECTIO_USER or \"local\")")

	sessionPreCmd.Flags().String("goal", "", "What the reader wants to get from the text")
	sessionPreCmd.Flags().String("prediction", "", "What the reader expects the text to say")
	sessionPreCmd.Flags().StringSlice("words", nil, "Comma-separated target words")

	sessionSayCmd.Flags().StringToString("meta", nil, "Utterance metadata, e.g. --meta questionId=q1,expectedAnswer=\"el mar\"")
	sessionSayCmd.Flags().BoolP("verbose", "v", false, "Print the full reply with recorded events as JSON")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionPreCmd)
	sessionCmd.AddCommand(sessionSummaryCmd)
	sessionCmd.AddCommand(sessionSayCmd)
	sessionCmd.AddCommand(sessionAdvanceCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionOutcomeCmd)
}
