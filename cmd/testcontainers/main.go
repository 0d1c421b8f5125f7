package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/localnerve/stemflow/internal/devstack"
)

func main() {
	var showHelp bool
	flag.BoolVar(&showHelp, "h", false, "show help")
	var envFilename string
	flag.StringVar(&envFilename, "f", "", "path to the .env file")
	var noMinio, noRedis bool
	flag.BoolVar(&noMinio, "no-minio", false, "do not start MinIO")
	flag.BoolVar(&noRedis, "no-redis", false, "do not start Redis")
	flag.Parse()

	usage := `
Run the stemflow dependency containers with the environment variables from the .env file.
Prints the environment a local stemflow server needs to reach them.

Usage:

testcontainers [-h] [-f ENV_FILE_PATH] [-no-minio] [-no-redis]

ENV_FILE_PATH: path to the .env file

example
  testcontainers -f /path/to/something/.env
`
	// if -h flag print usage and return
	if showHelp {
		fmt.Println(usage)
		return
	}

	if envFilename != "" {
		log.Printf("Loading environment variables from %s\n", envFilename)
		if err := godotenv.Load(envFilename); err != nil {
			log.Fatalf("Failed to load environment variables: %v\n", err)
		}
	} else {
		log.Printf("No environment file specified, using current environment variables\n")
	}

	opts := devstack.OptionsFromEnv()
	opts.SkipMinio = noMinio
	opts.SkipRedis = noRedis

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	stack, err := devstack.Start(ctx, opts, log.Printf)
	if err != nil {
		log.Fatalf("Failed to create test containers: %v\n", err)
	}

	env := stack.Env()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, env[k])
	}

	<-ctx.Done()
	log.Printf("\nReceived signal, terminating test containers...\n")
	stack.Terminate(context.Background(), log.Printf)
	os.Exit(0)
}
