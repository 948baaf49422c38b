package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/gohome-skyport/internal/config"
	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/rpc"
)

var (
	addrFlag   string
	jsonOutput bool
	timeout    time.Duration
	conn       *grpc.ClientConn
	cancelDial context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "gohome-cli",
	Short:         "Talk to a running GoHome server over gRPC",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		addr := resolveAddr()
		c, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
		if err != nil {
			cancel()
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		conn = c
		cancelDial = cancel
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if conn != nil {
			conn.Close()
		}
		if cancelDial != nil {
			cancelDial()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "server gRPC address (default from GOHOME_GRPC_ADDR or config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body (default: stdin or {})")
	pluginsCmd.AddCommand(pluginsListCmd, pluginsDescribeCmd)
	rootCmd.AddCommand(pluginsCmd, servicesCmd, methodsCmd, callCmd, skyportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List or describe loaded plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugins and their health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := rpc.Invoke(cmd.Context(), conn, registryService(), "ListPlugins", nil)
		if err != nil {
			return fmt.Errorf("list plugins: %w", err)
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, item := range list(resp["plugins"]) {
			p := object(item)
			rows = append(rows, []string{text(p["plugin_id"]), text(p["display_name"]), text(p["version"]), text(p["status"])})
		}
		out.table(rows)
		return nil
	},
}

var pluginsDescribeCmd = &cobra.Command{
	Use:   "describe <plugin_id>",
	Short: "Show a plugin's services, dashboards and agent notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := rpc.Invoke(cmd.Context(), conn, registryService(), "DescribePlugin", map[string]any{"plugin_id": args[0]})
		if err != nil {
			return fmt.Errorf("describe plugin: %w", err)
		}
		out := outputMode{json: jsonOutput}
		if out.json {
			out.printJSON(resp)
			return nil
		}
		p := object(resp["plugin"])
		fmt.Printf("id: %s\n", text(p["plugin_id"]))
		fmt.Printf("name: %s\n", text(p["display_name"]))
		fmt.Printf("version: %s\n", text(p["version"]))
		fmt.Printf("status: %s\n", text(p["status"]))
		if msg := text(p["health_message"]); msg != "" {
			fmt.Printf("health: %s\n", msg)
		}
		fmt.Println("grpc services:")
		for _, svc := range list(p["services"]) {
			fmt.Printf("  - %s\n", text(svc))
		}
		if calls := list(p["actions"]); len(calls) > 0 {
			fmt.Println("callable services:")
			for _, svc := range calls {
				fmt.Printf("  - %s\n", text(object(svc)["name"]))
			}
		}
		fmt.Println("dashboards:")
		for _, dash := range list(p["dashboards"]) {
			d := object(dash)
			fmt.Printf("  - %s (%s)\n", text(d["name"]), text(d["path"]))
		}
		fmt.Println("agents_md:")
		fmt.Println(text(p["agents_md"]))
		return nil
	},
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List gRPC services exposed by the server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		services, err := grpcurl.ListServices(reflectionSource(cmd.Context()))
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		for _, service := range services {
			fmt.Println(service)
		}
		return nil
	},
}

var methodsCmd = &cobra.Command{
	Use:   "methods <service>",
	Short: "List the methods of a gRPC service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		methods, err := grpcurl.ListMethods(reflectionSource(cmd.Context()), args[0])
		if err != nil {
			return fmt.Errorf("list methods: %w", err)
		}
		for _, method := range methods {
			fmt.Println(method)
		}
		return nil
	},
}

var callData string

var callCmd = &cobra.Command{
	Use:   "call <service/method>",
	Short: "Invoke any method with a JSON body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		descSource := reflectionSource(ctx)

		var reader io.Reader
		switch {
		case callData != "":
			reader = strings.NewReader(callData)
		case isStdinTerminal():
			reader = strings.NewReader("{}")
		default:
			reader = os.Stdin
		}

		parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
		if err != nil {
			return fmt.Errorf("parse request: %w", err)
		}
		handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
		if err := grpcurl.InvokeRPC(ctx, descSource, conn, args[0], nil, handler, parser.Next); err != nil {
			return fmt.Errorf("invoke: %w", err)
		}
		if handler.Status != nil && handler.Status.Err() != nil {
			return handler.Status.Err()
		}
		return nil
	},
}

func registryService() string {
	return core.RegistryPackage + "." + core.RegistryName
}

func reflectionSource(ctx context.Context) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	if value := os.Getenv("GOHOME_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "gohome:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gohome", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return ""
	}
	return cfg.Core.GRPCAddr
}
