// File: main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ip-rotator/pkg/config"
	"ip-rotator/pkg/database"
	"ip-rotator/pkg/fetch"
	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/ipinfo"
	"ip-rotator/pkg/pool"
	"ip-rotator/pkg/ratelimit"
)

var (
	debugFlag bool
	cfgFile   string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ip-rotator",
	Short: "Rotate the source IP of HTTP requests through per-region API gateways",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag || viper.GetBool("verbose") {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Provision the gateways for the target and print their endpoints",
	Long: `Provision one gateway per region for the configured target and leave
them running. Existing gateways for the same target are reused unless --force
is given. Use "clear" to delete them.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		force, _ := cmd.Flags().GetBool("force")
		cfg := loadConfig(true)

		p, db := newPool(ctx, cfg)
		if db != nil {
			defer db.Close()
		}

		if err := p.Start(ctx, force); err != nil {
			logger.Error("Error starting pool", "error", err)
			os.Exit(1)
		}
		if err := p.Wait(ctx); err != nil {
			logger.Error("Interrupted while provisioning", "error", err)
			os.Exit(1)
		}

		endpoints := p.Endpoints()
		if len(endpoints) == 0 {
			logger.Error("No region could provide an endpoint", "target", p.Target())
			os.Exit(1)
		}
		for _, endpoint := range endpoints {
			fmt.Println(endpoint)
		}
		logger.Info("Pool started", "name", p.Name(), "endpoints", len(endpoints))
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [count]",
	Short: "Send requests to an IP echo service through a temporary pool",
	Long: `Provision a pool in front of an IP echo service, send [count] requests
through it and print the egress address each one was seen from. The pool is
torn down afterwards.`,
	Example: "check 20 --concurrency 5",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		count := 10
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				logger.Error("Invalid count value", "count", args[0])
				os.Exit(1)
			}
			count = n
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		echoURL, _ := cmd.Flags().GetString("url")

		cfg := loadConfig(false)
		if echoURL == "" {
			echoURL = cfg.IPInfoURL
		}
		cfg.Target = echoURL
		cfg.HostHeader = ""

		p, db := newPool(ctx, cfg)
		if db != nil {
			defer db.Close()
		}

		results := make([]ipinfo.IPInfoResponse, count)
		err := p.Use(ctx, func(ctx context.Context, p *pool.Pool) error {
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for i := 0; i < count; i++ {
				g.Go(func() error {
					info, err := ipinfo.Lookup(ctx, p, echoURL, cfg.IPInfoToken)
					if err != nil {
						return fmt.Errorf("request %d: %w", i+1, err)
					}
					results[i] = info
					return nil
				})
			}
			return g.Wait()
		})
		if err != nil {
			logger.Error("Error checking rotation", "error", err)
			os.Exit(1)
		}

		seen := make(map[string]bool)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tIP\tASN\tORG\tCOUNTRY")
		for i, info := range results {
			asn, org := ipinfo.ParseOrg(info.Org)
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, info.IP, asn, org, info.Country)
			seen[info.IP] = true
		}
		w.Flush()

		logger.Info("Rotation check completed", "requests", count, "distinct_ips", len(seen))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the gateways created for the target",
	Long: `Delete the gateways created for the configured target in every region.
With --all, every gateway in those regions is deleted, including ones that
were not created by this tool.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		all, _ := cmd.Flags().GetBool("all")
		cfg := loadConfig(true)
		cfg.ClearAll = cfg.ClearAll || all

		p, db := newPool(ctx, cfg)
		if db != nil {
			defer db.Close()
		}

		if err := p.Close(ctx); err != nil {
			logger.Error("Error clearing gateways", "error", err)
			os.Exit(1)
		}
	},
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List the endpoints recorded in the database",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		all, _ := cmd.Flags().GetBool("all")
		cfg := loadConfig(false)
		if !cfg.DatabaseEnabled {
			logger.Error("The endpoint ledger needs database.enabled")
			os.Exit(1)
		}

		db, err := initDB(ctx, cfg)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		endpoints, err := db.ListEndpoints(ctx, all)
		if err != nil {
			logger.Error("Error listing endpoints", "error", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POOL\tREGION\tADDRESS\tREUSED\tCREATED\tDELETED")
		for _, ep := range endpoints {
			deleted := "-"
			if !ep.Live() {
				deleted = ep.DeletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
				ep.PoolName, ep.Region, ep.Address, ep.Reused, ep.CreatedAt.Format("2006-01-02 15:04:05"), deleted)
		}
		w.Flush()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: config.yaml in ., $HOME/.ip-rotator or /etc/ip-rotator/)")
	rootCmd.PersistentFlags().StringP("target", "t", "", "Origin URL the gateways forward to")
	rootCmd.PersistentFlags().String("host-header", "", "Host header presented to the origin (default: target host)")
	rootCmd.PersistentFlags().StringSlice("regions", nil, "Regions to provision in (default: built-in catalog)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Report per-region failures as warnings")
	_ = viper.BindPFlag("target", rootCmd.PersistentFlags().Lookup("target"))
	_ = viper.BindPFlag("host_header", rootCmd.PersistentFlags().Lookup("host-header"))
	_ = viper.BindPFlag("regions", rootCmd.PersistentFlags().Lookup("regions"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	startCmd.Flags().Bool("force", false, "Create new gateways even if ones for the target exist")
	checkCmd.Flags().String("url", "", "IP echo service to query (default: ipinfo.url)")
	checkCmd.Flags().Int("concurrency", 5, "Maximum number of requests in flight")
	clearCmd.Flags().Bool("all", false, "Delete every gateway in the regions, not only the target's")
	endpointsCmd.Flags().Bool("all", false, "Include deleted endpoints")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(endpointsCmd)
}

func initConfig() {
	config.Bind(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.ip-rotator")
		viper.AddConfigPath("/etc/ip-rotator/")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadConfig(requireTarget bool) config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if requireTarget && cfg.Target == "" {
		logger.Error("No target configured, set --target or target in the config file")
		os.Exit(1)
	}
	return cfg
}

// newPool wires the control plane, HTTP client and optional ledger into a pool.
func newPool(ctx context.Context, cfg config.Config) (*pool.Pool, *database.DB) {
	factory, err := gateway.NewFactory(cfg.ControlPlane, logger)
	if err != nil {
		logger.Error("Failed to create control plane", "error", err)
		os.Exit(1)
	}

	httpOpts := cfg.HTTP
	httpOpts.Transport, err = config.ResolveTransport(ctx, http.DefaultClient, cfg.HTTP.Transport)
	if err != nil {
		logger.Error("Failed to resolve transport", "error", err)
		os.Exit(1)
	}
	client, err := fetch.NewClient(httpOpts)
	if err != nil {
		logger.Error("Failed to create HTTP client", "error", err)
		os.Exit(1)
	}

	opts := []pool.Option{
		pool.WithHTTPClient(client),
		pool.WithLogger(logger),
		pool.WithLimiter(ratelimit.NewLimiter(cfg.Pacing)),
	}

	var db *database.DB
	if cfg.DatabaseEnabled {
		db, err = initDB(ctx, cfg)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		opts = append(opts, pool.WithRecorder(db))
	}

	p, err := pool.New(cfg.Pool(), factory, opts...)
	if err != nil {
		logger.Error("Failed to create pool", "error", err)
		os.Exit(1)
	}
	return p, db
}

func initDB(ctx context.Context, cfg config.Config) (*database.DB, error) {
	db, err := database.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	err = db.InitSchema(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
