// Connector-worker keeps a pool of poll workers that rotate over tenant
// Postgres databases and enqueue their pending jobs.
//
// Without -worker it runs the supervisor. With -worker it runs a single poll
// worker for -slot, which is how the supervisor re-executes itself in
// process mode.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "configs/connector.yaml", "path to config file")
	flag.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flag.IntVar(&opts.slot, "slot", 0, "worker slot (with -worker)")
	showVersion := flag.Bool("version", false, "print version and exit")
	workerMode := flag.Bool("worker", false, "run a single poll worker instead of the supervisor")
	flag.Parse()

	if *showVersion {
		fmt.Println("connector-worker", version)
		os.Exit(0)
	}

	var err error
	if *workerMode {
		err = runWorker(opts)
	} else {
		err = run(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
