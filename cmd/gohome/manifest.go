package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-skyport/plugins/skyport"
)

var manifestJSON bool

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print the Skyport service manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		services, err := skyport.LoadServices()
		if err != nil {
			return err
		}
		var out []byte
		if manifestJSON {
			out, err = json.MarshalIndent(services.Values(), "", "  ")
		} else {
			out, err = services.Marshal()
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	manifestCmd.Flags().BoolVar(&manifestJSON, "json", false, "print JSON instead of YAML")
}
