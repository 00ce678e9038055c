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
	"github.com/spf13/cobra"

	"github.com/saedplatform/portal/database"
)

var (
	employeeCmd = &cobra.Command{
		Use:   "employee",
		Short: "Manage the employees allowed to use the portal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initPortalConfig(cmd, args); err != nil {
				return err
			}
			return database.InitPortalDatabase(cmd.Context(), portalConfig.Portal.DbLocation)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return database.ShutdownPortalDatabase()
		},
	}

	employeeAddCmd = &cobra.Command{
		Use:   "add <subject> <email>",
		Short: "Register an employee by the subject the identity proxy reports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			employee := &database.Employee{GoogleSub: args[0], Email: args[1], FullName: employeeName, Cuil: employeeCuil}
			if err := database.CreateEmployee(cmd.Context(), employee); err != nil {
				return err
			}
			return printResult(cmd, employee)
		},
	}

	employeeShowCmd = &cobra.Command{
		Use:   "show <subject>",
		Short: "Show one employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			employee, err := database.GetEmployeeBySub(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd, employee)
		},
	}

	employeeListCmd = &cobra.Command{
		Use:   "list",
		Short: "List every registered employee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			employees, err := database.ListEmployees(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, employees)
		},
	}

	employeeSetCuilCmd = &cobra.Command{
		Use:   "set-cuil <subject> <cuil>",
		Short: "Set the CUIL receipts are looked up by",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			employee, err := database.UpdateEmployeeCuil(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(cmd, employee)
		},
	}

	employeeName string
	employeeCuil string
)

func init() {
	employeeAddCmd.Flags().StringVar(&employeeName, "name", "", "Full name of the employee")
	employeeAddCmd.Flags().StringVar(&employeeCuil, "cuil", "", "CUIL of the employee")

	employeeCmd.AddCommand(employeeAddCmd)
	employeeCmd.AddCommand(employeeShowCmd)
	employeeCmd.AddCommand(employeeListCmd)
	employeeCmd.AddCommand(employeeSetCuilCmd)
}
