// Copyright © 2024 SealMsg. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sealmsg/group-server/internal/api"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "groupserver",
		Short:        "Group control plane of the SealMsg service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return api.Start(context.Background(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/groupserver.yml", "path to the configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
