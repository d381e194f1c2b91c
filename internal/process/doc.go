// Package process supervises long-running child processes, such as the
// hamlib rigctld daemon the station core can own.
//
// Features:
//   - Start/stop with process-group signalling and graceful shutdown
//   - Automatic restart on failure with doubling, capped backoff
//   - Optional periodic health probe that kills a hung child
//   - Line-by-line capture of child stdout/stderr into the log
//   - Context-based cancellation for clean shutdown
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:               "rigctld",
//	    Binary:             "/usr/bin/rigctld",
//	    Args:               []string{"-m", "3073", "-r", "/dev/ttyUSB0"},
//	    RestartOnFailure:   true,
//	    RestartDelay:       5 * time.Second,
//	    MaxRestartAttempts: 10,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package process
