/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/saedplatform/portal/config"
	"github.com/saedplatform/portal/launchers"
	"github.com/saedplatform/portal/logging"
	"github.com/saedplatform/portal/param"
)

type egrpKey struct{}

// logToFileAnnotation marks commands whose logs honor Logging.LogLocation;
// every other command logs to stderr.
const logToFileAnnotation = "logToFile"

var (
	cfgFile    string
	outputJSON bool

	portalViper  = config.NewViper()
	portalConfig *param.Config

	rootCmd = &cobra.Command{
		Use:   "portal",
		Short: "Serve and manage the employee receipt portal",
		Long: `The portal serves employees their salary receipts.  Receipts are fetched
from the payroll bucket on first request and kept, versioned, in a local
catalog so that later lookups never leave the host.`,
		PersistentPreRunE: initPortalConfig,
		SilenceUsage:      true,
	}
)

func initPortalConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.InitConfig(portalViper, cfgFile)
	if err != nil {
		_ = logging.FlushLogs(param.LoggingConfig{}, false)
		return err
	}
	if err := logging.ConfigureLevel(cfg); err != nil {
		return err
	}
	if err := logging.FlushLogs(cfg.Logging, cmd.Annotations[logToFileAnnotation] == "true"); err != nil {
		return err
	}
	portalConfig = cfg
	return nil
}

func cmdErrgroup(cmd *cobra.Command) *errgroup.Group {
	if egrp, ok := cmd.Context().Value(egrpKey{}).(*errgroup.Group); ok {
		return egrp
	}
	return &errgroup.Group{}
}

// printResult writes value to the command output as YAML, or as JSON when
// --json is given.
func printResult(cmd *cobra.Command, value any) error {
	var (
		out []byte
		err error
	)
	if outputJSON {
		out, err = json.MarshalIndent(value, "", "  ")
	} else {
		out, err = yaml.Marshal(value)
	}
	if err != nil {
		return errors.Wrap(err, "failed to format the result")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func Execute() error {
	egrp, egrpCtx := errgroup.WithContext(context.Background())
	ctx := context.WithValue(egrpCtx, egrpKey{}, egrp)
	exeErr := rootCmd.ExecuteContext(ctx)
	if exeErr != nil {
		log.Errorln("Fatal error occurred at the start of the program. Cleanup started:", exeErr)
	}
	egrpErr := egrp.Wait()
	if errors.Is(egrpErr, launchers.ErrExitOnSignal) {
		fmt.Println("Portal is safely exited")
		return nil
	}
	if egrpErr != nil {
		log.Errorln("Fatal error occurred that lead to the shutdown of the process:", egrpErr)
		return egrpErr
	}
	return exeErr
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(receiptsCmd)
	rootCmd.AddCommand(employeeCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./portal.yaml, then /etc/portal/portal.yaml)")
	flags.BoolP("debug", "d", false, "Enable debug logs")
	flags.StringP("log", "l", "", "Specified log output file")
	flags.BoolVarP(&outputJSON, "json", "", false, "output results in JSON format")
	// Registered so that --help lists it; handled in main.
	flags.BoolP("version", "", false, "Print the version and exit")

	if err := portalViper.BindPFlag("Debug", flags.Lookup("debug")); err != nil {
		panic(err)
	}
	if err := portalViper.BindPFlag("Logging.LogLocation", flags.Lookup("log")); err != nil {
		panic(err)
	}
}
