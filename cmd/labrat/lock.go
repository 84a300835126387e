package main

import (
	"os"

	"github.com/labrat-lab/labrat/pkg/lockfile"
	"github.com/spf13/cobra"
)

type lockOptions struct {
	pid int
}

var lockOpts lockOptions

var lockCmd = &cobra.Command{
	Use:   "lock <path>",
	Short: "Acquire a lock file",
	Long: `Create the lock file at path and record the owner pid in it, waiting
for as long as another process holds it. The lock is never taken over; a
stale lock file must be removed with unlock.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid := lockOpts.pid
		if pid <= 0 {
			pid = os.Getppid()
		}

		return lockfile.New(log).Acquire(args[0], pid)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <path>",
	Short: "Release a lock file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lockfile.New(log).Release(args[0])
	},
}

func init() {
	rootCmd.AddCommand(lockCmd, unlockCmd)

	lockCmd.Flags().IntVar(&lockOpts.pid, "pid", 0,
		"pid recorded as the owner (default the parent process, usually the calling shell)")
}
