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
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/saedplatform/portal/launchers"
)

type uint16Value uint16

var (
	emptyPort = uint16(0)
	portFlag  = &pflag.Flag{
		Name:      "port",
		Shorthand: "p",
		Usage:     "Set the port at which the web server should be accessible",
		Value:     (*uint16Value)(&emptyPort),
		DefValue:  "0",
	}
)

// pflag does not export a uint16 Value, so portFlag carries its own.
func (i *uint16Value) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 16)
	*i = uint16Value(v)
	return err
}

func (i *uint16Value) Type() string {
	return "uint16"
}

func (i *uint16Value) String() string {
	return strconv.FormatUint(uint64(*i), 10)
}

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Start the receipt portal web server",
	Args:         cobra.NoArgs,
	RunE:         servePortal,
	Annotations:  map[string]string{logToFileAnnotation: "true"},
	SilenceUsage: true,
}

func servePortal(cmd *cobra.Command, _ []string) error {
	_, err := launchers.LaunchPortal(cmd.Context(), cmdErrgroup(cmd), portalConfig)
	return err
}

func init() {
	serveCmd.Flags().AddFlag(portFlag)
	if err := portalViper.BindPFlag("Server.Port", portFlag); err != nil {
		panic(err)
	}
}
