package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/persistence"
	"github.com/shopwire/shopwire/types"
	"github.com/spf13/cobra"
)

// A very simple CLI tool for the administration of shopwire team memberships.

var (
	configPath string
	role       string

	persister persistence.Persister
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "shopwire-admin",
		Short:        "administer shopwire team memberships",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			globalConfig, err := config.ReadConfiguration(configPath, config.GetFlagSet())
			if err != nil {
				return err
			}
			if globalConfig.LogLevel != "" {
				globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
			}
			persister, err = persistence.NewPersister(globalConfig)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if persister != nil {
				persister.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")

	membershipCmd := &cobra.Command{
		Use:   "membership",
		Short: "manage team memberships",
	}

	addCmd := &cobra.Command{
		Use:   "add <shopId> <userId>",
		Short: "grant a user membership of a shop's team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return persister.StoreTeamMembership(types.TeamMembership{
				ShopId: args[0],
				UserId: args[1],
				Role:   role,
			})
		},
	}
	addCmd.Flags().StringVar(&role, "role", "agent", "role of the member (owner, agent)")

	removeCmd := &cobra.Command{
		Use:   "remove <shopId> <userId>",
		Short: "revoke a user's membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return persister.DeleteTeamMembership(args[0], args[1])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <shopId>",
		Short: "list a shop's team members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberships, err := persister.GetTeamMemberships(args[0])
			if err != nil {
				return err
			}
			for _, m := range memberships {
				fmt.Printf("%s\t%s\t%s\n", m.ShopId, m.UserId, m.Role)
			}
			return nil
		},
	}

	membershipCmd.AddCommand(addCmd, removeCmd, listCmd)
	rootCmd.AddCommand(membershipCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
