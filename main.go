package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/emberhex/go-slack-irc/bridge"
)

func main() {
	configPath := pflag.String("config", "", "Config file to read configuration stuff from")
	debugMode := pflag.Bool("debug", false, "Debug mode?")
	debugPresence := pflag.Bool("debug-presence", false, "Include presence changes in debug output")

	pflag.Parse()

	if *configPath == "" {
		log.Fatalln("--config argument is required!")
		return
	}

	configFile, err := os.Open(*configPath)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "could not read config"))
	}

	setLogDebug(*debugMode)

	conf := bridge.MakeDefaultConfig()
	conf.Debug = *debugMode
	conf.DebugPresence = *debugPresence // Default value, if unspecified in the config
	if err := bridge.LoadConfigInto(conf, configFile); err != nil {
		log.Fatalln(errors.Wrap(err, "could not read config"))
	}
	configFile.Close()

	b, err := bridge.New(conf)
	if err != nil {
		log.WithField("error", err).Fatalln("go-slack-irc failed to initialise.")
		return
	}

	// Create new signal receiver
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	// Open the bridge
	if err := b.Open(); err != nil {
		log.WithField("error", err).Fatalln("go-slack-irc failed to start.")
		return
	}

	// Inform the user that things are happening!
	log.Infoln("go-slack-irc is now running. Press Ctrl-C to exit.")

	// Watch for a shutdown signal
	<-sc

	log.Infoln("Shutting down go-slack-irc...")

	// Cleanly close down the bridge.
	b.Close()
}

func setLogDebug(debug bool) {
	logger := log.StandardLogger()
	if debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}
