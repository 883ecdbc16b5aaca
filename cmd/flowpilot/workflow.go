package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"flowpilot/internal/confidence"
	"flowpilot/internal/types"
	"flowpilot/internal/workflow"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// workflowCmd groups workflow management subcommands
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		workflows, err := a.store.ListWorkflows(false)
		if err != nil {
			return err
		}
		if len(workflows) == 0 {
			fmt.Println("No workflows defined. Import one with: flowpilot workflow import <file.json>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTRIGGER\tSTEPS\tCONFIDENCE\tRUNS\tENABLED")
		for _, wf := range workflows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%d\t%v\n",
				wf.Name, wf.Trigger.Type, len(wf.Steps), wf.OverallConfidence, wf.RunCount, wf.Enabled)
		}
		return w.Flush()
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a workflow's steps, confidence and run statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		wf, err := a.store.GetWorkflowByName(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s  (%s)\n", wf.Name, wf.ID)
		if wf.Description != "" {
			fmt.Println(wf.Description)
		}
		fmt.Printf("Trigger: %s\n", wf.Trigger.Type)
		fmt.Printf("Enabled: %v\n", wf.Enabled)
		fmt.Printf("Runs: %d (%d succeeded)\n", wf.RunCount, wf.SuccessCount)
		fmt.Printf("Overall confidence: %.2f\n\n", wf.OverallConfidence)

		tracker := newTracker(a)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tTOOL\tCONFIDENCE\tGRADUATED")
		for i := range wf.Steps {
			step := &wf.Steps[i]
			status, err := tracker.Graduation(wf, step)
			if err != nil {
				return err
			}
			grad := "yes"
			if !status.Graduated {
				grad = fmt.Sprintf("no (%d unmet)", len(status.Reasons))
			}
			fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\n", step.Order, step.Tool, step.Confidence, grad)
		}
		return w.Flush()
	},
}

var workflowEnableCmd = &cobra.Command{
	Use:   "enable [name]",
	Short: "Enable a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], true) },
}

var workflowDisableCmd = &cobra.Command{
	Use:   "disable [name]",
	Short: "Disable a workflow (workflows are never deleted)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], false) },
}

func setEnabled(name string, enabled bool) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := a.store.GetWorkflowByName(name)
	if err != nil {
		return err
	}
	if err := a.store.SetWorkflowEnabled(wf.ID, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Workflow %s %s\n", name, state)
	return nil
}

var workflowImportCmd = &cobra.Command{
	Use:   "import [file.json]",
	Short: "Import a workflow definition from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var wf types.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return fmt.Errorf("malformed workflow file: %w", err)
		}
		if wf.Name == "" || len(wf.Steps) == 0 {
			return fmt.Errorf("workflow needs a name and at least one step")
		}
		if err := wf.Trigger.Validate(); err != nil {
			return fmt.Errorf("invalid trigger: %w", err)
		}
		if wf.ID == "" {
			wf.ID = uuid.NewString()
		}
		if err := a.store.SaveWorkflow(&wf); err != nil {
			return err
		}
		fmt.Printf("Imported workflow %s (%d steps)\n", wf.Name, len(wf.Steps))
		return nil
	},
}

// runCmd executes one workflow immediately, autonomously
var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run a workflow now (autonomous mode)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		wf, err := a.store.GetWorkflowByName(args[0])
		if err != nil {
			return err
		}

		runner := workflow.NewRunner(a.store, newTracker(a), workflow.NewLocalExecutor(), nil)
		runner.AutonomyThreshold = a.cfg.Confidence.AutonomyThreshold

		run, err := runner.Run(cmd.Context(), wf, workflow.ModeAutonomous, nil)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s finished: %s\n", run.ID, run.Status)
		for _, ev := range run.Log {
			if ev.Kind == types.EventStepStart {
				continue
			}
			line := fmt.Sprintf("  step %d %s: %s", ev.StepOrder, ev.Tool, ev.Kind)
			if ev.Detail != "" {
				line += " - " + ev.Detail
			}
			fmt.Println(line)
		}
		fmt.Printf("Overall confidence: %.2f\n", confidence.OverallConfidence(wf))
		if run.Status != types.RunCompleted {
			return fmt.Errorf("run finished with status %s", run.Status)
		}
		return nil
	},
}

func init() {
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowShowCmd)
	workflowCmd.AddCommand(workflowEnableCmd)
	workflowCmd.AddCommand(workflowDisableCmd)
	workflowCmd.AddCommand(workflowImportCmd)
}
