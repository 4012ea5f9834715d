package cli

import (
	"fmt"

	"github.com/relaykit/go-relay/management"
	"github.com/spf13/cobra"
)

var (
	subscriptionFlag  string
	resourceGroupFlag string
	namespaceFlag     string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Manage hybrid connections in a relay namespace",
}

var provisionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a hybrid connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := newManager()
		if err != nil {
			return err
		}
		if err := manager.CreateHybridConnection(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Created hybrid connection %s\n", args[0])
		return nil
	},
}

var provisionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a hybrid connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := newManager()
		if err != nil {
			return err
		}
		if err := manager.DeleteHybridConnection(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted hybrid connection %s\n", args[0])
		return nil
	},
}

var provisionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hybrid connections in the namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := newManager()
		if err != nil {
			return err
		}
		names, err := manager.ListHybridConnections(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			cmd.Println(name)
		}
		return nil
	},
}

func newManager() (*management.Manager, error) {
	if subscriptionFlag == "" || resourceGroupFlag == "" || namespaceFlag == "" {
		return nil, fmt.Errorf("--subscription, --resource-group, and --namespace are required")
	}
	return management.NewManager(&management.ManagerOptions{
		SubscriptionID:    subscriptionFlag,
		ResourceGroupName: resourceGroupFlag,
		NamespaceName:     namespaceFlag,
	})
}

func init() {
	provisionCmd.PersistentFlags().StringVar(&subscriptionFlag, "subscription", "", "Azure subscription ID")
	provisionCmd.PersistentFlags().StringVar(&resourceGroupFlag, "resource-group", "", "Resource group of the relay namespace")
	provisionCmd.PersistentFlags().StringVar(&namespaceFlag, "namespace", "", "Relay namespace name")
	provisionCmd.AddCommand(provisionCreateCmd)
	provisionCmd.AddCommand(provisionDeleteCmd)
	provisionCmd.AddCommand(provisionListCmd)
	rootCmd.AddCommand(provisionCmd)
}
