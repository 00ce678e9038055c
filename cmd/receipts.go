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
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/launchers"
	"github.com/saedplatform/portal/receipt_cache"
	"github.com/saedplatform/portal/receipts"
)

type periodOutput struct {
	receipts.Outcome `yaml:",inline"`
	Receipts         []receipts.Receipt `json:"receipts" yaml:"receipts"`
}

var (
	receiptCuil string

	receiptsCmd = &cobra.Command{
		Use:   "receipts",
		Short: "Inspect and refresh cached receipts for one employee",
	}

	receiptsYearsCmd = &cobra.Command{
		Use:   "years",
		Short: "List the years with cached receipts",
		Args:  cobra.NoArgs,
		RunE: withReceiptService(func(cmd *cobra.Command, svc *receipts.Service, _ *receipt_cache.Catalog, _ []string) error {
			years, err := svc.GetAvailableYears(cmd.Context(), receiptCuil)
			if err != nil {
				return err
			}
			return printResult(cmd, years)
		}),
	}

	receiptsMonthsCmd = &cobra.Command{
		Use:   "months <year>",
		Short: "List the cached months of a year",
		Args:  cobra.ExactArgs(1),
		RunE: withReceiptService(func(cmd *cobra.Command, svc *receipts.Service, _ *receipt_cache.Catalog, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Errorf("invalid year %q", args[0])
			}
			months, err := svc.GetAvailableMonths(cmd.Context(), receiptCuil, year)
			if err != nil {
				return err
			}
			return printResult(cmd, months)
		}),
	}

	receiptsGetCmd = &cobra.Command{
		Use:   "get <year> <month>",
		Short: "Show a period's receipts, downloading them on a cache miss",
		Args:  cobra.ExactArgs(2),
		RunE: withReceiptService(func(cmd *cobra.Command, svc *receipts.Service, _ *receipt_cache.Catalog, args []string) error {
			return runPeriodLookup(cmd, svc, args, svc.GetLatestOrFetch)
		}),
	}

	receiptsRefreshCmd = &cobra.Command{
		Use:   "refresh <year> <month>",
		Short: "Check the source for a newer copy of a period",
		Args:  cobra.ExactArgs(2),
		RunE: withReceiptService(func(cmd *cobra.Command, svc *receipts.Service, _ *receipt_cache.Catalog, args []string) error {
			return runPeriodLookup(cmd, svc, args, svc.RefreshPeriod)
		}),
	}

	receiptsVersionsCmd = &cobra.Command{
		Use:   "versions <year> <month>",
		Short: "List the stored snapshot versions of a period",
		Args:  cobra.ExactArgs(2),
		RunE: withReceiptService(func(cmd *cobra.Command, svc *receipts.Service, _ *receipt_cache.Catalog, args []string) error {
			year, month, err := parsePeriodArgs(args)
			if err != nil {
				return err
			}
			versions, err := svc.ListVersions(cmd.Context(), receiptCuil, year, month)
			if err != nil {
				return err
			}
			return printResult(cmd, versions)
		}),
	}

	receiptsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List every receipt within the lookback window",
		Args:  cobra.NoArgs,
		RunE: withReceiptService(func(cmd *cobra.Command, svc *receipts.Service, _ *receipt_cache.Catalog, _ []string) error {
			list, err := svc.ListReceipts(cmd.Context(), receiptCuil)
			if err != nil {
				return err
			}
			return printResult(cmd, list)
		}),
	}

	receiptsStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize the receipt catalog",
		Args:  cobra.NoArgs,
		RunE: withReceiptService(func(cmd *cobra.Command, _ *receipts.Service, catalog *receipt_cache.Catalog, _ []string) error {
			stats, err := catalog.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, stats)
		}),
	}
)

// withReceiptService opens the catalog for the duration of one command.
func withReceiptService(run func(*cobra.Command, *receipts.Service, *receipt_cache.Catalog, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, catalog, err := launchers.NewReceiptService(cmd.Context(), portalConfig)
		if err != nil {
			return err
		}
		defer catalog.Close()
		return run(cmd, svc, catalog, args)
	}
}

func parsePeriodArgs(args []string) (int, int, error) {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, errors.Errorf("invalid year %q", args[0])
	}
	month, err := strconv.Atoi(args[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, errors.Errorf("invalid month %q", args[1])
	}
	return year, month, nil
}

func runPeriodLookup(cmd *cobra.Command, svc *receipts.Service, args []string, lookup func(context.Context, string, int, int) (receipts.Outcome, error)) error {
	year, month, err := parsePeriodArgs(args)
	if err != nil {
		return err
	}
	outcome, err := lookup(cmd.Context(), receiptCuil, year, month)
	if err != nil {
		return err
	}
	result := periodOutput{Outcome: outcome, Receipts: []receipts.Receipt{}}
	if outcome.Entry != nil {
		if result.Receipts, err = svc.Receipts(receiptCuil, outcome.Entry); err != nil {
			return err
		}
	}
	return printResult(cmd, result)
}

func init() {
	receiptsCmd.PersistentFlags().StringVar(&receiptCuil, "cuil", "", "CUIL of the employee whose receipts to operate on")
	receiptsCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initPortalConfig(cmd, args); err != nil {
			return err
		}
		if cmd != receiptsStatsCmd && !cuil.IsComplete(receiptCuil) {
			return errors.New("--cuil must be an 11-digit CUIL")
		}
		return nil
	}

	receiptsCmd.AddCommand(receiptsYearsCmd)
	receiptsCmd.AddCommand(receiptsMonthsCmd)
	receiptsCmd.AddCommand(receiptsGetCmd)
	receiptsCmd.AddCommand(receiptsRefreshCmd)
	receiptsCmd.AddCommand(receiptsVersionsCmd)
	receiptsCmd.AddCommand(receiptsListCmd)
	receiptsCmd.AddCommand(receiptsStatsCmd)
}
