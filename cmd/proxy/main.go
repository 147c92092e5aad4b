// Command proxy starts the forwarding HTTP proxy on a given local port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/keywordgate/proxy/pkg/listener"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Printf("Usage: %s <port>\n", os.Args[0])
		return 1
	}

	port := os.Args[1]
	for _, r := range port {
		if r < '0' || r > '9' {
			fmt.Println("ERROR: Provided port may only contain digits")
			return 1
		}
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log.Info("starting proxy")

	lst, err := listener.Open(port, log)
	if err != nil {
		log.WithError(err).Error("could not open listening socket")
		return 2
	}

	log.WithField("port", port).Info("proxy listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := lst.Serve(ctx); err != nil {
		log.WithError(err).Error("accepting connections failed")
		return 2
	}

	log.Info("proxy shut down")
	return 0
}
