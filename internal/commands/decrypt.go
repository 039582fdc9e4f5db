package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avolkov/cryptoflow/internal/packager"
	"github.com/avolkov/cryptoflow/internal/pipeline"
)

// NewDecryptCommand creates the decrypt subcommand.
func NewDecryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "decrypt [flags] package.zip",
		Aliases: []string{"dec"},
		Short:   "Decrypt a package back into files",
		Args:    cobra.ExactArgs(1),
		RunE:    runDecrypt,
	}

	cmd.Flags().StringP("output", "o", ".", "Directory to write decrypted files into")

	return cmd
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.InheritedFlags().GetString("config")
	passwordFlag, _ := cmd.InheritedFlags().GetString("password")
	outDir, _ := cmd.Flags().GetString("output")

	app, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer app.close()

	entries, err := readPackage(args[0])
	if err != nil {
		return err
	}

	// A package is self-contained: its key records are loaded into the
	// store under a fresh session before the batch runs.
	session := uuid.NewString()
	items := make([]pipeline.DecryptItem, 0, len(entries))
	for _, e := range entries {
		if err := app.store.Put(session, e.Record); err != nil {
			return err
		}
		items = append(items, pipeline.DecryptItem{
			FileID:    e.Record.FileID,
			Name:      e.Name,
			Container: e.Container,
		})
	}

	orch := app.orchestrator(pipeline.MapProvider{})
	batch, err := orch.DecryptBatch(cmd.Context(), session, items, password(passwordFlag))
	if err != nil {
		return err
	}

	written := 0
	for i := range batch.Results {
		r := &batch.Results[i]
		if r.Failed() {
			app.log.WithError(r.Err).WithFields(logrus.Fields{
				"file": r.Name,
				"kind": r.Kind,
			}).Error("File failed")
			continue
		}
		if err := writePlaintext(outDir, r.Name, r.Plaintext); err != nil {
			return err
		}
		written++
	}

	app.log.WithFields(logrus.Fields{
		"files":   written,
		"out_dir": outDir,
	}).Info("Package decrypted")

	if failed := len(batch.Failures()); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(batch.Results))
	}
	return nil
}

func readPackage(path string) ([]packager.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat package: %w", err)
	}
	return packager.Read(f, info.Size())
}

// writePlaintext places one decrypted file under dir. Entry names are
// validated against path traversal before anything touches the disk.
func writePlaintext(dir, name string, data []byte) error {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return fmt.Errorf("package entry %q escapes output directory", name)
	}

	path := filepath.Join(dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}
