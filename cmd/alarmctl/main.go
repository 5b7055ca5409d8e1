package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/queue"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/snapshot"
	"github.com/TencentBlueKing/bk-monitor-sub015/internal/storage"
	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: alarmctl <push|snapshot|stats> [flags]")
	fmt.Fprintln(os.Stderr, "  push      push JSONL anomaly points onto a shard queue")
	fmt.Fprintln(os.Stderr, "  snapshot  save a strategy snapshot and print its key")
	fmt.Fprintln(os.Stderr, "  stats     print signal and shard queue depths")
}

func runPush(args []string) int {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	addr := fs.String("redis", "127.0.0.1:6379", "Redis address")
	input := fs.String("input", "", "JSONL file of anomaly points")
	strategyID := fs.Int64("strategy", 0, "Strategy id of the shard")
	itemID := fs.Int64("item", 0, "Item id of the shard")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" || *strategyID == 0 || *itemID == 0 {
		fmt.Fprintln(os.Stderr, "push requires -input, -strategy and -item")
		return 2
	}

	client, err := storage.NewClient(storage.RedisConfig{Addr: *addr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		return 1
	}
	defer client.Close()

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
		return 1
	}
	defer f.Close()

	var payloads [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var point models.AnomalyPoint
		if err := json.Unmarshal(line, &point); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed point: %v\n", err)
			continue
		}
		payload := make([]byte, len(line))
		copy(payload, line)
		payloads = append(payloads, payload)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shard := queue.Shard{StrategyID: *strategyID, ItemID: *itemID}
	q := queue.New(client, 0)
	if err := q.Push(ctx, shard, payloads); err != nil {
		fmt.Fprintf(os.Stderr, "failed to push points: %v\n", err)
		return 1
	}

	fmt.Printf("pushed points=%d shard=%s\n", len(payloads), shard)
	return 0
}

func runSnapshot(args []string) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	addr := fs.String("redis", "127.0.0.1:6379", "Redis address")
	input := fs.String("input", "", "JSON file holding one strategy snapshot")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "snapshot requires -input")
		return 2
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input: %v\n", err)
		return 1
	}
	var snap models.StrategySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse strategy snapshot: %v\n", err)
		return 1
	}
	if snap.ID == 0 {
		fmt.Fprintln(os.Stderr, "strategy snapshot must carry a non-zero id")
		return 1
	}

	client, err := storage.NewClient(storage.RedisConfig{Addr: *addr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := snapshot.NewStore(client, 0).Save(ctx, &snap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to save snapshot: %v\n", err)
		return 1
	}

	fmt.Printf("saved strategy=%d key=%s\n", snap.ID, key)
	return 0
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	addr := fs.String("redis", "127.0.0.1:6379", "Redis address")
	shardArg := fs.String("shard", "", "Optional shard as strategy.item")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client, err := storage.NewClient(storage.RedisConfig{Addr: *addr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q := queue.New(client, 0)
	signals, err := q.SignalDepth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read signal depth: %v\n", err)
		return 1
	}
	fmt.Printf("signals=%d\n", signals)

	if *shardArg != "" {
		shard, err := queue.ParseShard(*shardArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid shard: %v\n", err)
			return 2
		}
		depth, err := q.Depth(ctx, shard)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read shard depth: %v\n", err)
			return 1
		}
		fmt.Printf("shard=%s depth=%d\n", shard, depth)
	}
	return 0
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "push":
		os.Exit(runPush(os.Args[2:]))
	case "snapshot":
		os.Exit(runSnapshot(os.Args[2:]))
	case "stats":
		os.Exit(runStats(os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}
