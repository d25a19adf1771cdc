// Package main provides the nt-bridge binary.
// It republishes numeric NetworkTables entries onto a messaging transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nt-bridge",
		Short: "Bridge NetworkTables telemetry to MQTT",
		Long: `nt-bridge connects to a NetworkTables server as a client and republishes
every numeric entry as a retained message on a messaging transport.

Each entry name becomes a topic with whitespace and path separators removed,
so "SmartDashboard/Angle 1" is published on "SmartDashboardAngle1".

Examples:
  nt-bridge --address 10.12.34.2                 # Robot to local MQTT broker
  nt-bridge --robot 10.12.34.2 --host broker     # Remote broker
  nt-bridge --address localhost --transport redis
  nt-bridge -c bridge.yaml --metrics-addr :9464`,
		RunE:         runBridge,
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.String("address", "", "NetworkTables server address, host[:port] (required)")
	flags.String("host", "localhost", "MQTT broker host")
	flags.IntP("port", "p", 1883, "MQTT broker port")
	flags.String("transport", "mqtt", "transport type (mqtt, kafka, redis, memory)")
	flags.Duration("interval", 0, "publish loop interval (default 20ms)")
	flags.StringP("config", "c", "", "config file path")
	flags.BoolP("verbose", "v", false, "verbose logging")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "robot" {
			name = "address"
		}
		return pflag.NormalizedName(name)
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nt-bridge %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	return cmd
}
