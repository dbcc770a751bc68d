// Command test-enqueue pushes turn requests straight onto the Redis queue,
// bypassing the API. Useful for exercising workers by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jwebster45206/dialogue-engine/internal/services/queue"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	queuePkg "github.com/jwebster45206/dialogue-engine/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "Redis URL")
	slot := flag.String("slot", "test-slot", "save slot to play")
	utterance := flag.String("say", "Hello, this is a test message!", "player utterance")
	action := flag.String("action", "", "pre-classified action; empty uses the worker's classifier")
	topic := flag.String("topic", "", "pre-classified topic")
	count := flag.Int("n", 1, "number of requests to enqueue")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := queue.NewClient(*redisURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer func() { _ = client.Close() }()

	fmt.Println("Connected to Redis successfully!")

	var classification *intent.Classification
	if *action != "" {
		classification = &intent.Classification{Action: *action, Topic: *topic}
	}

	ctx := context.Background()
	q := queue.NewTurnQueue(client, logger)
	for range *count {
		req := queuePkg.NewRequest(*slot, *utterance, classification)
		if err := q.Enqueue(ctx, req); err != nil {
			log.Fatal("Failed to enqueue request:", err)
		}
		fmt.Printf("✅ Enqueued turn request: %s\n", req.RequestID)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}
	fmt.Printf("📊 Queue depth: %d\n", depth)
}
