package commands

import (
	"github.com/spf13/cobra"

	"github.com/opencode-ai/chatstream/internal/cache"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the cached conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, _, err := loadSettings()
		if err != nil {
			return err
		}
		slot, err := cache.Open(settings.Cache)
		if err != nil {
			return err
		}
		defer slot.Close()

		msgs := cache.NewSynchronizer(slot, settings.Cache.Key).Load(cmd.Context())
		NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), noColor, jsonOut).History(msgs)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, _, err := loadSettings()
		if err != nil {
			return err
		}
		slot, err := cache.Open(settings.Cache)
		if err != nil {
			return err
		}
		defer slot.Close()

		cache.NewSynchronizer(slot, settings.Cache.Key).Clear(cmd.Context())
		NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), noColor, jsonOut).Info("cleared cache %q (%s)", settings.Cache.Key, settings.Cache.Backend)
		return nil
	},
}
