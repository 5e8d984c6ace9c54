package main

import (
	"github.com/spf13/cobra"

	"github.com/ironsheep/detcrop/internal/cropstore"
	"github.com/ironsheep/detcrop/internal/server"
)

func (c *cli) sweepCommand() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply crop retention once",
		Long:  "Delete all but the newest crops.retention_count crops and remove stale temp files.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			result, err := store.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			c.logger.Info("sweep finished",
				"kept", result.Kept,
				"removed", result.Removed,
				"temps_removed", result.TempsRemoved)
			return writeJSON(cmd.OutOrStdout(), result, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func (c *cli) listCommand() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored crops, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			crops, err := store.List()
			if err != nil {
				return err
			}
			if crops == nil {
				crops = []cropstore.StoredCropRecord{}
			}
			return writeJSON(cmd.OutOrStdout(), server.ListResult{
				Dir:            store.Dir(),
				RetentionCount: store.RetentionCount(),
				Count:          len(crops),
				Crops:          crops,
			}, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

// openStore builds only the crop store; list and sweep need nothing else.
func (c *cli) openStore() (*cropstore.Store, error) {
	return cropstore.New(c.cfg.StoreOptions(c.logger, nil))
}
