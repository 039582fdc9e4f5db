package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avolkov/cryptoflow/internal/crypto"
	"github.com/avolkov/cryptoflow/internal/packager"
	"github.com/avolkov/cryptoflow/internal/pipeline"
	"github.com/avolkov/cryptoflow/internal/schedule"
)

// NewEncryptCommand creates the encrypt subcommand.
func NewEncryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "encrypt [flags] files...",
		Aliases: []string{"enc"},
		Short:   "Encrypt files into a package",
		Args:    cobra.MinimumNArgs(1),
		RunE:    runEncrypt,
	}

	cmd.Flags().StringP("mode", "m", "gcm", "Cipher mode: gcm, ctr or cbc")
	cmd.Flags().String("policy", "", "Scheduling policy: fifo or priority (default from config)")
	cmd.Flags().StringP("output", "o", "", "Package output path (default derived from session id)")
	cmd.Flags().Bool("compare", false, "Run both scheduling policies and report wall times")

	return cmd
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.InheritedFlags().GetString("config")
	passwordFlag, _ := cmd.InheritedFlags().GetString("password")
	modeName, _ := cmd.Flags().GetString("mode")
	policyName, _ := cmd.Flags().GetString("policy")
	output, _ := cmd.Flags().GetString("output")
	compare, _ := cmd.Flags().GetBool("compare")

	app, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer app.close()

	mode, err := crypto.ParseMode(modeName)
	if err != nil {
		return err
	}
	if policyName == "" {
		policyName = app.cfg.Pipeline.Policy
	}
	policy, err := schedule.ParsePolicy(policyName)
	if err != nil {
		return err
	}

	jobs := make([]pipeline.JobSpec, 0, len(args))
	for _, path := range args {
		id := filepath.ToSlash(filepath.Clean(path))
		jobs = append(jobs, pipeline.JobSpec{ID: id, Name: id})
	}

	orch := app.orchestrator(pipeline.NewFSProvider("."))
	pw := password(passwordFlag)
	session := uuid.NewString()

	if compare {
		if err := runComparison(cmd, orch, session, jobs, pw, mode, policy); err != nil {
			return err
		}
	}

	batch, err := orch.EncryptBatch(cmd.Context(), session, jobs, pw, mode, policy)
	if err != nil {
		return err
	}
	if compare {
		fmt.Fprintf(os.Stdout, "%-8s %s\n", policy, batch.Elapsed)
	}

	entries := make([]packager.Entry, 0, len(batch.Results))
	for i := range batch.Results {
		r := &batch.Results[i]
		if r.Failed() {
			app.log.WithError(r.Err).WithFields(logrus.Fields{
				"file": r.Name,
				"kind": r.Kind,
			}).Error("File failed")
			continue
		}
		entries = append(entries, packager.Entry{Name: r.Name, Container: r.Container, Record: r.Record})
	}

	if len(entries) > 0 {
		if output == "" {
			output = "cryptoflow-" + session[:8] + ".zip"
		}
		if err := writePackage(output, entries); err != nil {
			return err
		}
		app.log.WithFields(logrus.Fields{
			"package": output,
			"files":   len(entries),
			"session": session,
		}).Info("Package written")
	}

	if failed := len(batch.Failures()); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(batch.Results))
	}
	return nil
}

// runComparison encrypts the batch once per policy under throwaway sessions
// and reports the wall times side by side.
func runComparison(cmd *cobra.Command, orch *pipeline.Orchestrator, session string, jobs []pipeline.JobSpec, pw string, mode crypto.Mode, primary schedule.Policy) error {
	for _, policy := range []schedule.Policy{schedule.PolicyFIFO, schedule.PolicyPriority} {
		if policy == primary {
			continue // the primary run below covers it
		}
		batch, err := orch.EncryptBatch(cmd.Context(), session+"-"+string(policy), jobs, pw, mode, policy)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%-8s %s\n", policy, batch.Elapsed)
	}
	return nil
}

func writePackage(path string, entries []packager.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create package file: %w", err)
	}
	if err := packager.Write(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
