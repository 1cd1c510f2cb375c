// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// capsuled is the repository daemon: it serves the line protocol over
// a bbolt-backed node store.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "capsuled",
	Short: "Content repository daemon",
	Long: `capsuled serves a hierarchical content repository over a
line-based protocol: workspaces of typed nodes with transactional
batched mutations, versioning and property search.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default .capsuled.yaml)")
	flags.String("listen", "127.0.0.1:8210", "listen address")
	flags.String("network", "tcp", "listen network (tcp or unix)")
	flags.String("store", "capsuled.db", "node store path")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format (text or json)")
	viper.BindPFlag("listen", flags.Lookup("listen"))
	viper.BindPFlag("network", flags.Lookup("network"))
	viper.BindPFlag("store", flags.Lookup("store"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".capsuled")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}
	viper.SetEnvPrefix("CAPSULED")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func run(cmd *cobra.Command, args []string) error {
	log := capsuled.NewLogger(viper.GetString("log.level"), viper.GetString("log.format"))

	store, err := server.OpenStore(viper.GetString("store"))
	if err != nil {
		return err
	}
	defer store.Close()

	listener, err := net.Listen(viper.GetString("network"), viper.GetString("listen"))
	if err != nil {
		return err
	}
	srv := server.NewSrv(listener, store, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		srv.Close()
	}()

	log.WithField("listen", viper.GetString("listen")).Info("serving")
	return srv.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
