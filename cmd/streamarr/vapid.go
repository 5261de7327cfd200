package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Manage web push VAPID keys",
}

var vapidGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a VAPID key pair",
	Long: `Generate a VAPID key pair and print it as a [settings.notifications.webpush]
TOML snippet. Keys configured this way take precedence over the generated
key file in the data directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := settings.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := map[string]any{
			"settings": map[string]any{
				"notifications": map[string]any{
					"webpush": map[string]any{
						"vapid_public":  keys.Public,
						"vapid_private": keys.Private,
					},
				},
			},
		}
		if err := toml.NewEncoder(cmd.OutOrStdout()).Encode(out); err != nil {
			return fmt.Errorf("encode keys: %w", err)
		}
		return nil
	},
}

func init() {
	vapidCmd.AddCommand(vapidGenerateCmd)
}
