package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/dialogue-engine/internal/bootstrap"
	"github.com/jwebster45206/dialogue-engine/internal/config"
	"github.com/jwebster45206/dialogue-engine/internal/logger"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/turn"
)

// cli holds what every subcommand shares. engine is opened lazily so that
// --help works without a store.
type cli struct {
	backend string
	engine  *turn.Engine
	store   storage.Storage
}

func (c *cli) open(cmd *cobra.Command) error {
	if c.engine != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.backend != "" {
		cfg.StoreBackend = strings.ToLower(c.backend)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	// logs go to stderr so command output stays pipeable
	log := logger.SetupWriter(cfg, cmd.ErrOrStderr())

	store, err := bootstrap.OpenStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	engine, err := bootstrap.NewEngine(cfg, store, log)
	if err != nil {
		_ = store.Close()
		return err
	}
	c.store = store
	c.engine = engine
	return nil
}

func (c *cli) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "slotctl",
		Short:         "Inspect and play dialogue save slots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.backend, "store", "", "store backend (memory, redis, sqlite); overrides STORE_BACKEND")

	root.AddCommand(
		newListCmd(c),
		newInitCmd(c),
		newShowCmd(c),
		newPlayCmd(c),
		newDeleteCmd(c),
	)
	return root
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List save slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := c.engine.Store().ListSlots(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintln(out, "no slots")
				return nil
			}
			for _, slot := range slots {
				fmt.Fprintln(out, slot)
			}
			return nil
		},
	}
}

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init <slot>",
		Short: "Create a fresh save slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.engine.NewSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s at version %d\n", s.Slot, s.CheckpointVersion)
			return nil
		},
	}
}

func newShowCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <slot>",
		Short: "Print a slot's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.engine.Store().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			printState(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw checkpoint as JSON")
	return cmd
}

func newPlayCmd(c *cli) *cobra.Command {
	var (
		action  string
		topic   string
		probing bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "play <slot> <utterance>",
		Short: "Play one turn synchronously",
		Long: `Play one dialogue turn against the slot and print the envelope.

With --action the classifier is skipped and the given classification is
used, after the usual validation.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := args[0]
			utterance := strings.Join(args[1:], " ")

			var (
				res *turn.Result
				err error
			)
			if action != "" {
				res, err = c.engine.PlayClassified(cmd.Context(), slot, utterance, intent.Classification{
					Action:          action,
					Topic:           topic,
					IsProbingSecret: probing,
				})
			} else {
				res, err = c.engine.Play(cmd.Context(), slot, utterance)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "turn:         %s (attempts %d)\n", res.TurnID, res.Attempts)
			fmt.Fprintf(out, "intent:       %s\n", res.Intent)
			fmt.Fprintf(out, "outcome:      %s\n", res.Outcome)
			fmt.Fprintf(out, "relationship: %d\n", res.State.Relationship)
			fmt.Fprintf(out, "tone:         %s\n", res.Envelope.ToneDirective)
			if res.Envelope.Locked() {
				fmt.Fprintf(out, "override:     %q\n", res.Envelope.ForcedOverrideText)
			}
			if len(res.Envelope.ForbiddenTopics) > 0 {
				fmt.Fprintf(out, "forbidden:    %s\n", strings.Join(res.Envelope.ForbiddenTopics, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "pre-classified action (ask, persuade, deceive, intimidate, give-item, stealth-act, none)")
	cmd.Flags().StringVar(&topic, "topic", "", "pre-classified topic")
	cmd.Flags().BoolVar(&probing, "probing", false, "mark the pre-classified intent as probing the secret")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full turn result as JSON")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <slot>",
		Short: "Delete a save slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := args[0]
			if _, err := c.engine.Store().Load(cmd.Context(), slot); err != nil {
				return err
			}
			if err := c.engine.Store().Delete(cmd.Context(), slot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", slot)
			return nil
		},
	}
}

func printState(w io.Writer, s *state.SessionState) {
	fmt.Fprintf(w, "slot:         %s\n", s.Slot)
	fmt.Fprintf(w, "version:      %d\n", s.CheckpointVersion)
	fmt.Fprintf(w, "turns:        %d (%d noop)\n", s.TurnCounter, s.NoopTurns)
	fmt.Fprintf(w, "relationship: %d\n", s.Relationship)
	fmt.Fprintf(w, "npc status:   %s", s.NPCStatus.Status)
	if s.NPCStatus.Active() {
		fmt.Fprintf(w, " (%d turns)", s.NPCStatus.Duration)
	}
	fmt.Fprintln(w)

	keys := make([]string, 0, len(s.Flags))
	for k, v := range s.Flags {
		if v {
			keys = append(keys, string(k))
		}
	}
	slices.Sort(keys)
	if len(keys) == 0 {
		keys = append(keys, "none")
	}
	fmt.Fprintf(w, "flags:        %s\n", strings.Join(keys, ", "))

	if n := len(s.Journal); n > 0 {
		fmt.Fprintln(w, "journal:")
		for _, e := range s.Journal[max(0, n-5):] {
			lock := ""
			if e.Locked {
				lock = " [locked]"
			}
			fmt.Fprintf(w, "  %-10s %s%s\n", e.TurnID, e.Summary, lock)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps well-known failures to distinct exit codes for scripts.
func exitCode(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return 3
	case errors.Is(err, storage.ErrSlotBusy), errors.Is(err, turn.ErrTurnFailed):
		return 4
	case errors.Is(err, intent.ErrClassifierUnavailable):
		return 5
	default:
		return 1
	}
}
