// ABOUTME: Diagnostic tool for clock synchronization quality
// ABOUTME: Joins a session, runs the ping schedule, and prints offset stats
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splitcast/splitcast-go/internal/client"
	"github.com/splitcast/splitcast-go/internal/sync"
)

var (
	serverAddr = flag.String("server", "localhost:8927", "Coordinator address")
	sessionID  = flag.String("session", "synctest", "Session to join")
	duration   = flag.Duration("duration", 30*time.Second, "How long to sample")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	fmt.Println("=== Splitcast Clock Sync Test ===")
	fmt.Printf("Sampling against %s for %s\n\n", *serverAddr, *duration)

	c := client.NewClient(client.Config{
		ServerAddr: *serverAddr,
		SessionID:  *sessionID,
	})
	if err := c.Connect(); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	fmt.Printf("Joined as %s (%s channel)\n", c.ClientID(), c.Channel())

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cs := sync.NewClockSync()
	go cs.Run(ctx, c.SendPing)

	for {
		select {
		case pong := <-c.Pongs:
			cs.ProcessPong(pong.ClientTimestamp, pong.ServerTimestamp)
			log.Printf("sample %d: raw delta=%+dms latency=%dms (median offset %+dms)",
				cs.SampleCount(), pong.ServerTimestamp-pong.ClientTimestamp,
				cs.Latency(), cs.Offset())

		case <-ctx.Done():
			fmt.Printf("\nFinal: median offset %+dms, last latency %dms over %d samples\n",
				cs.Offset(), cs.Latency(), cs.SampleCount())
			return
		}
	}
}
