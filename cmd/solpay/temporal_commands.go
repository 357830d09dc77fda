package main

import (
	"fmt"
	"time"

	"github.com/brojonat/solpay/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func awaitWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until the payment workflow for a signature completes",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			signature := c.Args().First()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx, cancel := awaitContext(cancelOnSignal(c.Context), c.Duration("timeout"))
			defer cancel()

			payments := temporal.NewClientFromSDK(temporalClient, "", newLogger(c))
			result, err := payments.AwaitPayment(ctx, signature)
			if result == nil {
				return err
			}

			// A failed workflow still reports how far the payment got.
			if c.Bool("json") {
				if perr := printJSON(result); perr != nil {
					return perr
				}
				return err
			}
			fmt.Printf("Signature: %s\n", result.Signature)
			fmt.Printf("Status:    %s\n", result.Status)
			if result.SubmittedAt != nil {
				fmt.Printf("Submitted: %s\n", result.SubmittedAt.Format(time.RFC3339))
			}
			if result.SettledAt != nil {
				fmt.Printf("Settled:   %s\n", result.SettledAt.Format(time.RFC3339))
			}
			if result.Error != nil {
				fmt.Printf("Error:     %s (%s)\n", *result.Error, result.ErrorKind)
			}
			return err
		},
	}
}

func describeWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe the payment workflow for a signature",
		Aliases:   []string{"desc"},
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			workflowID := temporal.PaymentWorkflowID(c.Args().First())

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			desc, err := temporalClient.DescribeWorkflowExecution(c.Context, workflowID, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow %s: %w", workflowID, err)
			}
			info := desc.GetWorkflowExecutionInfo()

			out := map[string]interface{}{
				"workflow_id": workflowID,
				"run_id":      info.GetExecution().GetRunId(),
				"status":      info.GetStatus().String(),
				"task_queue":  info.GetTaskQueue(),
			}
			if t := info.GetStartTime(); t != nil {
				out["start_time"] = t.AsTime()
			}
			if t := info.GetCloseTime(); t != nil {
				out["close_time"] = t.AsTime()
			}
			if c.Bool("json") {
				return printJSON(out)
			}

			fmt.Printf("Workflow ID: %s\n", workflowID)
			fmt.Printf("Run ID:      %s\n", info.GetExecution().GetRunId())
			fmt.Printf("Status:      %s\n", info.GetStatus().String())
			fmt.Printf("Task queue:  %s\n", info.GetTaskQueue())
			if t := info.GetStartTime(); t != nil {
				fmt.Printf("Started:     %s\n", t.AsTime().Format(time.RFC3339))
			}
			if t := info.GetCloseTime(); t != nil {
				fmt.Printf("Closed:      %s\n", t.AsTime().Format(time.RFC3339))
			}
			return nil
		},
	}
}

// getTemporalClient connects using the global temporal flags.
func getTemporalClient(c *cli.Context) (client.Client, error) {
	temporalClient, err := client.Dial(client.Options{
		HostPort:  c.String("temporal-host"),
		Namespace: c.String("temporal-namespace"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return temporalClient, nil
}
