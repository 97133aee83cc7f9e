// Package daemonrun assembles the resonate daemon from configuration and
// runs it until the process receives SIGINT or SIGTERM.
package daemonrun
