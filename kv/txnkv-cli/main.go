package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string
	dbPath     string
	cfName     string

	globalDB *transaction.TransactionDB
	globalCF int
)

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "TOML config file")
	fs.StringVar(&dbPath, "db", "", "data directory, overrides db-path of the config")
	fs.StringVar(&cfName, "cf", "default", "column family to operate on")
}

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	return conf, conf.Validate()
}

func setupLogger(conf *config.Config) error {
	lg, props, err := log.InitLogger(&log.Config{
		Level:  conf.LogLevel,
		Format: "text",
		File:   log.FileLogConfig{Filename: conf.LogFile},
	})
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

func serveStatus(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("status server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

func openDB(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if err = setupLogger(conf); err != nil {
		return err
	}
	if conf.StatusAddr != "" {
		serveStatus(conf.StatusAddr)
	}
	db, err := transaction.Open(conf)
	if err != nil {
		return err
	}
	cf := db.ColumnFamilyIndex(cfName)
	if cf < 0 {
		db.Close()
		return errors.Errorf("unknown column family %q", cfName)
	}
	globalDB, globalCF = db, cf
	return nil
}

func closeDB(cmd *cobra.Command, args []string) error {
	if globalDB == nil {
		return nil
	}
	err := globalDB.Close()
	globalDB = nil
	log.Sync()
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:                "txnkv-cli",
		Short:              "Transactional key/value client for a txnkv data directory",
		PersistentPreRunE:  openDB,
		PersistentPostRunE: closeDB,
		SilenceUsage:       true,
	}
	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newGetCommand(),
		newPutCommand(),
		newDeleteCommand(),
		newScanCommand(),
		newShellCommand(),
		newBenchCommand(),
	)

	cobra.EnablePrefixMatching = true

	if err := rootCmd.Execute(); err != nil {
		closeDB(rootCmd, nil)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
