package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/afikmenashe/gocart/internal/config"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default settings file and open it for editing",
		Long: `Write the default settings file if it does not exist yet, then open it in
$EDITOR. Without $EDITOR the path is printed instead.

Examples:
  gocart init
  gocart init -s ./gocart.yaml`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	written, err := config.WriteDefault(settingsPath)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(cmd.OutOrStdout(), "Created default settings file %s\n", settingsPath)
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Edit your settings in %s\n", settingsPath)
		return nil
	}

	edit := exec.Command(editor, settingsPath)
	edit.Stdin = os.Stdin
	edit.Stdout = os.Stdout
	edit.Stderr = os.Stderr
	if err := edit.Run(); err != nil {
		return errors.Wrapf(err, "failed to open %s in %s", settingsPath, editor)
	}
	return nil
}
