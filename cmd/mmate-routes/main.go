package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/glimte/mmate-router/config"
	"github.com/glimte/mmate-router/routing"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configFiles []string
	verbose     bool
	out         io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	rootCmd := &cobra.Command{
		Use:   "mmate-routes",
		Short: "Inspect mmate endpoint and route configuration",
		Long: `mmate-routes loads endpoint configuration files and shows the endpoints,
routes and reply descriptors an mmate client would build from them.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringSliceVarP(&a.configFiles, "config", "c", nil, "Endpoint configuration file (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	_ = rootCmd.MarkPersistentFlagRequired("config")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check configuration files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.load()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, okStyle.Render(fmt.Sprintf("✓ %d endpoints, %d routes", len(registry.Endpoints()), len(registry.Routes()))))
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "endpoints",
		Short: "List configured endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.load()
			if err != nil {
				return err
			}
			printEndpoints(a.out, registry)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "routes",
		Short: "List the route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.load()
			if err != nil {
				return err
			}
			printRoutes(a.out, registry)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "route <message-type>",
		Short: "Show the endpoint a message type is routed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.load()
			if err != nil {
				return err
			}
			ep, err := registry.FindEndpoint(args[0])
			if err != nil {
				return err
			}
			printEndpoint(a.out, args[0], ep)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:     "resolve <reply-descriptor>",
		Short:   "Resolve a reply descriptor to an endpoint",
		Example: `  mmate-routes resolve -c routes.hcl "Endpoint=rabbit;EntityPath=billing.replies"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.load()
			if err != nil {
				return err
			}
			ep, err := routing.NewReplyToResolver(registry, routing.WithResolverLogger(a.logger())).Resolve(args[0])
			if err != nil {
				return err
			}
			printEndpoint(a.out, args[0], ep)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "reply-to <endpoint>",
		Short: "Print the reply descriptor advertised for an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.load()
			if err != nil {
				return err
			}
			ep, err := registry.FindEndpointByName(args[0])
			if err != nil {
				return err
			}
			descriptor, err := routing.NewReplyToResolver(registry).ReplyDescriptorFor(ep)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, descriptor)
			return nil
		},
	})

	return rootCmd
}

func (a *app) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// load applies every configuration file to a fresh registry. Routes may
// reference endpoints declared in any of the files.
func (a *app) load() (*routing.EndpointRegistry, error) {
	logger := a.logger()
	registry := routing.NewEndpointRegistry(routing.WithRegistryLogger(logger))
	configs := make([]*config.Config, 0, len(a.configFiles))
	for _, path := range a.configFiles {
		cfg, err := config.Load(path, config.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := config.ApplyAll(registry, configs...); err != nil {
		return nil, fmt.Errorf("failed to apply configuration: %w", err)
	}
	return registry, nil
}
