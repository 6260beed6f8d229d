package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_scheduler/internal/auth"
	"github.com/austindbirch/harbor_scheduler/internal/config"
)

type spaceView struct {
	SpaceID        string `json:"space_id"`
	PublishField   string `json:"publish_field,omitempty"`
	UnpublishField string `json:"unpublish_field,omitempty"`
	HasToken       bool   `json:"has_management_token"`
	Auth           string `json:"auth"`
}

func newConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage schedctl and scheduler configuration",
	}
	cfg.AddCommand(newConfigValidateCmd(), newConfigViewCmd())
	return cfg
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spaces-file>",
		Short: "Validate a spaces configuration file",
		Long: `Load a spaces file (YAML, JSON or TOML) the way the scheduler does and
print the resolved settings of every space.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaces, err := config.LoadSpaces(args[0], config.DefaultValidators())
			if err != nil {
				return err
			}
			views := make([]spaceView, 0, spaces.Len())
			for _, id := range spaces.IDs() {
				sc, _ := spaces.Get(id)
				views = append(views, spaceView{
					SpaceID:        sc.SpaceID,
					PublishField:   sc.PublishField,
					UnpublishField: sc.UnpublishField,
					HasToken:       sc.ManagementToken != "",
					Auth:           describePolicy(sc.Auth),
				})
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), views)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d spaces OK\n", args[0], len(views))
			for _, v := range views {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s publish=%q unpublish=%q token=%v auth=%s\n",
					v.SpaceID, v.PublishField, v.UnpublishField, v.HasToken, v.Auth)
			}
			return nil
		},
	}
}

func describePolicy(p auth.Policy) string {
	switch p := p.(type) {
	case nil, auth.None:
		return "none"
	case auth.KeyValue:
		return fmt.Sprintf("key_value(%s, %d values)", p.HeaderKey, len(p.AllowedValues))
	case auth.Predicate:
		return fmt.Sprintf("predicate(%s)", p.HeaderKey)
	case auth.Deny:
		return fmt.Sprintf("deny(%s)", p.Reason)
	default:
		return "unknown"
	}
}

func newConfigViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "View current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := vp.ConfigFileUsed()
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"dsn_set":     dsn != "",
					"timeout":     timeout.String(),
					"json":        outputJSON,
					"config_file": file,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Current configuration:")
			fmt.Fprintf(cmd.OutOrStdout(), "  DSN set: %v\n", dsn != "")
			fmt.Fprintf(cmd.OutOrStdout(), "  Timeout: %s\n", timeout)
			if file != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  Config file: %s\n", file)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "  Config file: none (using defaults)")
			}
			return nil
		},
	}
}
