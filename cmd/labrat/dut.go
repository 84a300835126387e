package main

import (
	"fmt"
	"strconv"

	"github.com/labrat-lab/labrat/pkg/dut"
	"github.com/spf13/cobra"
)

var getDUTCountCmd = &cobra.Command{
	Use:   "get-dut-count",
	Short: "Print the number of configured machines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println(dut.Count(cfg.Machines))

		return nil
	},
}

var getDUTShCmd = &cobra.Command{
	Use:   "get-dut-sh <index>",
	Short: "Print a machine's attributes as shell assignments",
	Long: `Print DUT_<key>=<value> lines for the machine at index (zero based)
so a shell can eval them. Exits with status 1 when the index is out of range.`,
	Example: `  eval "$(labrat --config lab.yaml get-dut-sh 0)"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid machine index %q: %w", args[0], err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out, err := dut.ShellVars(cfg.Machines, index)
		if err != nil {
			return err
		}

		fmt.Print(out)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(getDUTCountCmd, getDUTShCmd)
}
