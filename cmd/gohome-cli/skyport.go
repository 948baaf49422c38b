package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-skyport/internal/rpc"
)

const skyportService = "gohome.plugins.skyport.v1.SkyportService"

func invokeSkyport(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	resp, err := rpc.Invoke(ctx, conn, skyportService, method, req)
	if err != nil {
		return nil, fmt.Errorf("skyport %s: %w", method, err)
	}
	return resp, nil
}

var skyportCmd = &cobra.Command{
	Use:   "skyport",
	Short: "Daikin Skyport thermostats",
}

var historyLimit int

func init() {
	skyportHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of calls to show")
	skyportCmd.AddCommand(
		skyportListCmd,
		skyportShowCmd,
		skyportSensorsCmd,
		skyportHistoryCmd,
		skyportServicesCmd,
		skyportRunCmd,
		skyportResumeCmd,
		skyportOneCleanCmd,
		skyportModeCmd,
	)
}

var skyportListCmd = &cobra.Command{
	Use:     "thermostats",
	Aliases: []string{"list"},
	Short:   "List thermostats on the account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := invokeSkyport(cmd.Context(), "ListThermostats", nil)
		if err != nil {
			return err
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		rows := [][]string{{"ENTITY", "NAME", "ID", "MODEL"}}
		for _, item := range list(resp["thermostats"]) {
			t := object(item)
			rows = append(rows, []string{text(t["entity_id"]), text(t["name"]), text(t["id"]), text(t["model"])})
		}
		out.table(rows)
		return nil
	},
}

var skyportShowCmd = &cobra.Command{
	Use:   "show <thermostat>",
	Short: "Print the stored deviceData of a thermostat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, err := resolveEntity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		resp, err := invokeSkyport(cmd.Context(), "GetThermostat", map[string]any{"entity_id": entity})
		if err != nil {
			return err
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		out.keyValues("KEY", object(resp["data"]))
		return nil
	},
}

var skyportSensorsCmd = &cobra.Command{
	Use:   "sensors [thermostat]",
	Short: "Show derived sensor readings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{}
		if len(args) == 1 {
			entity, err := resolveEntity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			req["entity_id"] = entity
		}
		resp, err := invokeSkyport(cmd.Context(), "ListSensors", req)
		if err != nil {
			return err
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		rows := [][]string{{"SENSOR", "TYPE", "VALUE"}}
		for _, item := range list(resp["thermostats"]) {
			for _, s := range list(object(item)["sensors"]) {
				sensor := object(s)
				rows = append(rows, []string{text(sensor["name"]), text(sensor["type"]), text(sensor["value"])})
			}
		}
		out.table(rows)
		return nil
	},
}

var skyportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent service calls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := invokeSkyport(cmd.Context(), "ListCalls", map[string]any{"limit": historyLimit})
		if err != nil {
			return err
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		rows := [][]string{{"TIME", "SERVICE", "ENTITY", "MS", "ERROR"}}
		for _, item := range list(resp["calls"]) {
			c := object(item)
			rows = append(rows, []string{text(c["ts"]), text(c["service"]), text(c["entity"]), text(c["duration_ms"]), text(c["error"])})
		}
		out.table(rows)
		return nil
	},
}

var skyportServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List callable services and their fields",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := invokeSkyport(cmd.Context(), "DescribeServices", nil)
		if err != nil {
			return err
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		for _, item := range list(resp["services"]) {
			svc := object(item)
			fmt.Printf("%s\n  %s\n", text(svc["name"]), strings.TrimSpace(text(svc["description"])))
			for _, f := range list(svc["fields"]) {
				field := object(f)
				line := fmt.Sprintf("    %s: %s", text(field["name"]), text(field["description"]))
				if ex := text(field["example"]); ex != "" {
					line += fmt.Sprintf(" (e.g. %s)", ex)
				}
				fmt.Println(line)
			}
		}
		ops := make([]string, 0)
		for _, op := range list(resp["climate_operations"]) {
			ops = append(ops, text(op))
		}
		fmt.Printf("\nthermostat controls: %s\n", strings.Join(ops, ", "))
		return nil
	},
}

var skyportRunCmd = &cobra.Command{
	Use:     "run <service> <thermostat> [field=value ...]",
	Short:   "Call any Skyport service",
	Example: "  gohome-cli skyport run set_fan_schedule kitchen start_time=24 end_time=88 interval=2\n" +
		"  gohome-cli skyport run set_thermostat_schedule kitchen day=Mon part=1 heat_temp_setpoint=20.5",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseFields(args[2:])
		if err != nil {
			return err
		}
		return callSkyport(cmd.Context(), args[0], args[1], data)
	},
}

var skyportResumeCmd = &cobra.Command{
	Use:   "resume <thermostat>",
	Short: "Resume the programmed schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callSkyport(cmd.Context(), "resume_program", args[0], map[string]any{})
	},
}

var skyportOneCleanCmd = &cobra.Command{
	Use:       "oneclean <thermostat> on|off",
	Short:     "Start or stop OneClean",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enable bool
		switch strings.ToLower(args[1]) {
		case "on", "start":
			enable = true
		case "off", "stop":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		return callSkyport(cmd.Context(), "set_oneclean", args[0], map[string]any{"enable": enable})
	},
}

var skyportModeCmd = &cobra.Command{
	Use:   "mode <thermostat> off|heat|cool|auto|auxheat",
	Short: "Set the HVAC mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callSkyport(cmd.Context(), "set_hvac_mode", args[0], map[string]any{"hvac_mode": args[1]})
	},
}

func callSkyport(ctx context.Context, service, thermostat string, data map[string]any) error {
	entity, err := resolveEntity(ctx, thermostat)
	if err != nil {
		return err
	}
	data["entity_id"] = entity
	resp, err := invokeSkyport(ctx, "CallService", map[string]any{"service": service, "data": data})
	if err != nil {
		return err
	}
	out := outputMode{json: jsonOutput}
	if out.json {
		out.printJSON(resp)
		return nil
	}
	for _, item := range list(resp["changes"]) {
		change := object(item)
		fmt.Printf("%s (%s)\n", text(change["entity_id"]), text(change["device_id"]))
		out.keyValues("  KEY", object(change["body"]))
	}
	return nil
}
