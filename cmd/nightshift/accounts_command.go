package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
	"nightshift/internal/ipc"
)

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Query capacity of every configured destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			accounts, err := queryAccounts(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				if accounts == nil {
					accounts = []destinations.Account{}
				}
				return writeJSON(cmd, accounts)
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No destinations configured")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAccounts(accounts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func queryAccounts(ctx context.Context, cc *commandContext, cfg *config.Config) ([]destinations.Account, error) {
	client, err := ipc.Dial(cc.socketPath())
	if err == nil {
		defer client.Close()
		resp, callErr := client.Accounts()
		if callErr != nil {
			return nil, callErr
		}
		return resp.Accounts, nil
	}
	if !daemonUnavailable(err) {
		return nil, wrapDialError(err, cc.socketPath())
	}
	members, err := destinations.MembersFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return destinations.NewPool(members, nil).Probe(ctx), nil
}

func renderAccounts(accounts []destinations.Account) string {
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		state := "healthy"
		if !a.Healthy {
			state = "unavailable"
			if a.Error != "" {
				state += ": " + a.Error
			}
		}
		rows = append(rows, []string{
			itoa(a.ID),
			a.Name,
			a.Provider,
			formatBytes(a.CapacityBytes),
			formatBytes(a.UsedBytes),
			formatBytes(a.Available()),
			state,
		})
	}
	return renderTable([]column{
		{Header: "ID", Right: true},
		{Header: "Name"},
		{Header: "Provider"},
		{Header: "Capacity", Right: true},
		{Header: "Used", Right: true},
		{Header: "Free", Right: true},
		{Header: "State", MaxWidth: 48},
	}, rows)
}
