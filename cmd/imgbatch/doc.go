// Package main hosts the imgbatch CLI.
//
// Commands talk to a running daemon over its HTTP API: submit uploads a
// manifest, status and show report on a job, list enumerates jobs and health
// prints the daemon's preflight checks. The daemon command runs the daemon in
// the foreground and config init writes a sample configuration file.
package main
