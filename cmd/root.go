package cmd

import (
	"fmt"
	"os"

	"dlwatch/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalArgs holds the persistent flags shared by every command
type globalArgs struct {
	ConfigPath string
	Verbose    bool
	Server     string
	Port       int
	Token      string
}

var (
	globalArg = &globalArgs{}
	cfg       *config.Config
	logger    *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dlwatch",
	Short: "Watch and control a remote download service",
	Long: `dlwatch talks to a remote download service over its JSON-RPC command
channel and follows its live job stream over a WebSocket push channel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(globalArg.ConfigPath)
		if err != nil {
			return err
		}
		applyOverrides(cmd, loaded)

		log, err := loaded.Log.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		if globalArg.Verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		cfg = loaded
		logger = log
		return nil
	},
}

// applyOverrides lets explicit flags win over file and environment values
func applyOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("server") {
		c.Server.Addr = globalArg.Server
	}
	if flags.Changed("port") {
		c.Server.Port = globalArg.Port
	}
	if flags.Changed("token") {
		c.Auth.Token = globalArg.Token
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalArg.ConfigPath, "config", "c", "", "config file (default "+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&globalArg.Verbose, "verbose", "V", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&globalArg.Server, "server", "", "download service host")
	rootCmd.PersistentFlags().IntVar(&globalArg.Port, "port", 0, "download service port")
	rootCmd.PersistentFlags().StringVar(&globalArg.Token, "token", "", "authentication token, overrides the saved one")
}
