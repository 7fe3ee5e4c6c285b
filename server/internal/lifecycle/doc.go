// Package lifecycle turns SIGINT/SIGTERM into one orderly shutdown.
//
// The first signal (or a call to Shutdown) runs the shutdown function once,
// bounded by a timeout, then exits the process. The exit code is 0 on
// success, the errno of the underlying system error when there is one, and
// 1 otherwise. Further signals while shutting down are logged and ignored so
// the final persist is never interrupted or repeated.
package lifecycle
