package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/pricing"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/scan"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

var (
	scanAccount string
	scanType    string
	scanWait    bool
	scanPoll    time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an account for orphaned resources",
	Example: `  cloudwaste scan --account prod-aws --wait
  cloudwaste scan --account dev-azure --type quick`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanAccount, "account", "", "account id from the config file")
	scanCmd.Flags().StringVar(&scanType, "type", scan.TypeFull, "scan type: full or quick")
	scanCmd.Flags().BoolVar(&scanWait, "wait", false, "wait for the job to finish and print a summary")
	scanCmd.Flags().DurationVar(&scanPoll, "poll", 2*time.Second, "status poll interval with --wait")
	_ = scanCmd.MarkFlagRequired("account")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	pool := a.newPool()
	pool.Start(ctx)

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go func() {
		_ = a.refresher(pricing.OnDemandOnly()).Run(refreshCtx)
	}()

	orch, err := a.orchestrator(pool)
	if err != nil {
		return err
	}

	job, err := orch.TriggerScan(ctx, scanAccount, scanType)
	if err != nil {
		_ = pool.Shutdown(ctx)
		return err
	}
	a.logger.Info("Scan queued", "job_id", job.ID, "account_id", job.AccountID)

	out := cmd.OutOrStdout()
	if !scanWait {
		if err := writeJSON(out, job); err != nil {
			return err
		}
		// The job runs in this process, so it still has to finish.
		if err := pool.Shutdown(ctx); err != nil {
			return err
		}
		if final, err := orch.GetScanStatus(ctx, job.ID); err == nil {
			a.notify(ctx, final)
		}
		return nil
	}

	final, err := orch.Wait(ctx, job.ID, scanPoll)
	if err != nil {
		return err
	}
	if err := pool.Shutdown(ctx); err != nil {
		a.logger.Warn("Worker pool did not drain", "error", err)
	}
	if err := writeJSON(out, final); err != nil {
		return err
	}
	fmt.Fprint(cmd.ErrOrStderr(), renderJobSummary(final))
	a.notify(ctx, final)
	if final.Status == store.JobFailed {
		return fmt.Errorf("scan %s failed: %s", final.ID, final.ErrorMessage)
	}
	return nil
}
