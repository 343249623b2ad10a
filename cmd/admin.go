package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var flagYes bool

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations on the vector store",
}

var adminResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the vector index and delete all stored documents",
	Args:  cobra.NoArgs,
	RunE:  runAdminReset,
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete one document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminDelete,
}

func init() {
	adminResetCmd.Flags().BoolVar(&flagYes, "yes", false,
		"skip the confirmation prompt")
	adminCmd.AddCommand(adminResetCmd)
	adminCmd.AddCommand(adminDeleteCmd)
	rootCmd.AddCommand(adminCmd)
}

func runAdminReset(cmd *cobra.Command, _ []string) error {
	if !flagYes {
		return fmt.Errorf("reset deletes every stored document; re-run with --yes to confirm")
	}

	a, err := setupApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Store reset.")
	return nil
}

func runAdminDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", args[0], err)
	}

	a, err := setupApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.DeleteDocument(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("Deleted document %s.\n", id)
	return nil
}
