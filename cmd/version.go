// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"

	"github.com/penny-vault/pv-tracker/common"
	"github.com/spf13/cobra"
)

var (
	versionCmdDeps bool
	versionCmdJSON bool
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionCmdDeps, "deps", false, "list module dependencies compiled into the binary")
	versionCmd.Flags().BoolVar(&versionCmdJSON, "json", false, "print build information as JSON")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Print the version number, build information and optionally the dependency list`,
	Run: func(cmd *cobra.Command, args []string) {
		info := common.CurrentBuildInfo(versionCmdDeps)
		if versionCmdJSON {
			printJSON(info)
			return
		}
		fmt.Println(info.String())
	},
}
