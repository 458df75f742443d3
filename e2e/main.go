// Command e2e is a load harness for the job queue. It enqueues randomly
// failing shell jobs at a configurable rate, runs a manager in-process
// and prints queue statistics until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/olivere/queuectl"
	"github.com/olivere/queuectl/sqlite"
)

func main() {
	var (
		dir         = flag.String("dir", "./data", "data directory for the database and lifecycle files")
		concurrency = flag.Int("c", 2, "number of workers")
		fillTime    = flag.Duration("fill-time", 5*time.Second, "interval in which new jobs get added")
		runTime     = flag.Duration("run-time", 3*time.Second, "maximum run time of a single job")
		logInterval = flag.Duration("log-interval", 1*time.Second, "log interval for stats")
		maxRetries  = flag.Int("max-retries", 2, "retry budget per job")
		failureRate = flag.Float64("failure-rate", 0.05, "failure rate in the interval [0.0,1.0]")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	rand.Seed(time.Now().UnixNano())

	st, err := sqlite.NewStore(filepath.Join(*dir, "queuectl.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	m := queuectl.New(
		queuectl.SetStore(st),
		queuectl.SetDataDir(*dir),
		queuectl.SetConcurrency(*concurrency),
		queuectl.SetPollInterval(250*time.Millisecond),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)

	go func() {
		errc <- m.Run(ctx)
	}()

	// Enqueue jobs
	go enqueuer(ctx, st, *fillTime, *runTime, *maxRetries, *failureRate)

	// Print stats
	go logger(ctx, st, *logInterval)

	if err := <-errc; err != nil {
		log.Printf("exit with error %v", err)
		os.Exit(1)
	}
	log.Print("exiting")
}

func enqueuer(ctx context.Context, st queuectl.Store, fillTime, runTime time.Duration, maxRetries int, failureRate float64) {
	var cnt int

	fillNanos := fillTime.Nanoseconds()
	runSecs := int(runTime.Seconds())
	if runSecs < 1 {
		runSecs = 1
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(rand.Int63n(fillNanos))):
		}
		cnt++
		command := fmt.Sprintf("sleep %d", rand.Intn(runSecs)+1)
		if rand.Float64() < failureRate {
			command += " && exit 1"
		}
		spec := &queuectl.JobSpec{
			ID:      fmt.Sprintf("e2e-%05d", cnt),
			Command: command,
		}
		prio := rand.Intn(10)
		spec.Priority = &prio
		job := spec.NewJob(maxRetries, time.Now().UTC())
		if err := st.Enqueue(ctx, job); err != nil {
			log.Printf("enqueue error: %v", err)
		}
	}
}

func logger(ctx context.Context, st queuectl.Store, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			ss, err := st.CountsByState(ctx)
			if err == nil {
				fmt.Printf("Pending=%6d Processing=%6d Completed=%6d Failed=%6d Dead=%6d\n",
					ss.Pending,
					ss.Processing,
					ss.Completed,
					ss.Failed,
					ss.Dead)
			}
		case <-ctx.Done():
			return
		}
	}
}
