/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command logport runs the log ingestion and analytics pipeline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/config"
	"github.com/gravitational/logport/lib/defaults"
	"github.com/gravitational/logport/lib/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error(trace.DebugReport(err))
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("logport", "Access log ingestion and analytics pipeline.")
	configPath := app.Flag("config", "Path to the configuration file.").
		Short('c').Default(defaults.ConfigFilePath).String()
	debug := app.Flag("debug", "Enable verbose logging.").Short('d').Bool()

	cmdStart := app.Command("start", "Start workers and the scheduler.")
	cmdWorker := app.Command("worker", "Start task workers only.")
	cmdScheduler := app.Command("scheduler", "Start the fetch scheduler only.")
	cmdVersion := app.Command("version", "Print the version and exit.")

	selected, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	if selected == cmdVersion.FullCommand() {
		fmt.Printf("logport v%v", logport.Version)
		if logport.Gitref != "" {
			fmt.Printf(" git:%v", logport.Gitref)
		}
		fmt.Println()
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if *debug {
		cfg.Log.Severity = "debug"
	}

	off := false
	switch selected {
	case cmdStart.FullCommand():
	case cmdWorker.FullCommand():
		cfg.Scheduler.Enabled = &off
	case cmdScheduler.FullCommand():
		cfg.Worker.Enabled = &off
	default:
		return trace.BadParameter("unknown command %q", selected)
	}

	return trace.Wrap(service.Run(context.Background(), service.Config{
		FileConfig: cfg,
	}))
}

// loadConfig reads the config file, falling back to environment-only
// configuration when the default path does not exist.
func loadConfig(path string) (*config.FileConfig, error) {
	cfg, err := config.ReadFromFile(path)
	if err == nil {
		return cfg, nil
	}
	if trace.IsNotFound(err) && path == defaults.ConfigFilePath {
		return config.Default()
	}
	return nil, trace.Wrap(err)
}
