package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"flowpilot/internal/store"
	"flowpilot/internal/types"

	"github.com/spf13/cobra"
)

// actionsCmd groups action queue subcommands
var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Inspect and cancel queued autonomous actions",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and notified actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		var actions []*types.Action
		for _, status := range []types.ActionStatus{types.ActionPending, types.ActionNotified, types.ActionExecuting} {
			batch, err := a.store.ListActionsByStatus(status)
			if err != nil {
				return err
			}
			actions = append(actions, batch...)
		}
		if len(actions) == 0 {
			fmt.Println("No active actions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINTENT\tSTATUS\tEXECUTES AFTER\tDESCRIPTION")
		for _, act := range actions {
			executesAfter := "-"
			if act.NotBefore != nil {
				executesAfter = act.NotBefore.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", act.ID, act.Intent, act.Status, executesAfter, act.Description)
		}
		return w.Flush()
	},
}

var actionsCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a pending or notified action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		switch err := a.store.CancelAction(args[0]); {
		case err == nil:
			fmt.Printf("Action %s cancelled\n", args[0])
			return nil
		case errors.Is(err, store.ErrInvalidTransition):
			return fmt.Errorf("action %s is already executing or finished", args[0])
		default:
			return err
		}
	},
}

func init() {
	actionsCmd.AddCommand(actionsListCmd)
	actionsCmd.AddCommand(actionsCancelCmd)
}
