// Package rigctld manages a local hamlib rigctld daemon on behalf of
// the station core.
//
// Polled transceivers are driven through rigctld's TCP command
// protocol. When rigctld.managed is enabled the station core owns the
// daemon: it launches the configured binary, waits for the TCP port to
// accept connections, restarts it with backoff if it crashes, and
// probes it periodically with a read-only get_freq command to catch a
// hung daemon. A PID file prevents two cores from fighting over the
// same rig.
//
// With management disabled the package only answers health probes
// against the externally run daemon.
package rigctld
