// Command queuectl operates a persistent background job queue on this
// host: enqueue shell-command jobs, run workers, inspect results, manage
// the dead-letter queue and serve a read-only dashboard.
package main

func main() {
	Execute()
}
