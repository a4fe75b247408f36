package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	natmap "github.com/nknorg/go-natmap"
)

func newMapCmd() *cobra.Command {
	mapCmd := &cobra.Command{
		Use:   "map",
		Short: "Map an external port on the gateway to a local port",
		Long: `Discover a gateway and map an external port to a local port.

With --external 0 (the default) the gateway or natmap picks a free
external port. The external port in use is printed on stdout.`,
		Example: `  natmap map --port 8080
  natmap map --proto udp --port 5000 --lease 2h --description game`,
		RunE: runMap,
	}

	mapCmd.Flags().String("proto", "tcp", "protocol: tcp or udp")
	mapCmd.Flags().Int("port", 0, "local port to forward to")
	mapCmd.Flags().Int("external", 0, "external port, 0 to allocate any")
	mapCmd.Flags().Duration("lease", 0, "lease duration, 0 for the configured default")
	mapCmd.Flags().String("description", "", "mapping description")
	mapCmd.Flags().StringSlice("backend", nil, "discovery backends: upnp-igd1, upnp-igd2, nat-pmp")
	return mapCmd
}

func runMap(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd, map[string]string{
		"mapping.protocol":      "proto",
		"mapping.internal_port": "port",
		"mapping.external_port": "external",
		"mapping.lease":         "lease",
		"mapping.description":   "description",
		"discovery.backends":    "backend",
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	proto, err := natmap.ParseProtocol(cfg.Mapping.Protocol)
	if err != nil {
		return err
	}

	backends := make([]natmap.Backend, 0, len(cfg.Discovery.Backends))
	for _, b := range cfg.Discovery.Backends {
		backends = append(backends, natmap.Backend(b))
	}

	ctx := cmd.Context()
	nat, err := natmap.DiscoverGateway(ctx,
		natmap.WithLogger(logger),
		natmap.WithTimeout(cfg.Discovery.Timeout),
		natmap.WithBackends(backends...))
	if err != nil {
		return fmt.Errorf("discover gateway: %w", err)
	}

	m := cfg.Mapping
	port, err := nat.AddPortMapping(ctx, proto, m.ExternalPort, m.InternalPort, m.Description, m.Lease)
	if err != nil {
		return fmt.Errorf("add port mapping via %s: %w", nat.Type(), err)
	}

	logger.Info("port mapped",
		zap.String("nat", nat.Type()),
		zap.Stringer("protocol", proto),
		zap.Int("internal_port", m.InternalPort),
		zap.Int("external_port", port),
		zap.Duration("lease", m.Lease))

	fmt.Fprintln(cmd.OutOrStdout(), port)
	return nil
}
