// Copyright 2026 The Hashcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command hashcore-bench drives the hybrid-hash aggregation/join core
// through a fixed set of scenarios and prints both the output rows and
// the metrics snapshot each scenario produces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hashcore-bench",
		Short: "Run fixed scenarios against the hashcore aggregation/join core",
	}
	cmd.AddCommand(
		aggBasicCommand(),
		aggSpillCommand(),
		joinInnerCommand(),
		joinLeftOuterCommand(),
		joinNullAwareAntiCommand(),
		streamingPassthroughCommand(),
		allCommand(),
	)
	return cmd
}

func allCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every scenario in sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := []struct {
				name string
				run  func() error
			}{
				{"agg-basic", runAggBasic},
				{"agg-spill", runAggSpill},
				{"join-inner", runJoinInner},
				{"join-left-outer", runJoinLeftOuter},
				{"join-null-aware-anti", runJoinNullAwareAnti},
				{"streaming-passthrough", runStreamingPassthrough},
			}
			for _, s := range scenarios {
				fmt.Printf("=== %s ===\n", s.name)
				if err := s.run(); err != nil {
					return fmt.Errorf("%s: %w", s.name, err)
				}
				fmt.Println()
			}
			return nil
		},
	}
}
