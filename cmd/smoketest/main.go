// Command smoketest checks connectivity to the service's collaborators:
// Redis, the analytics endpoint and the Kafka ingest topic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/casafind/market-stats-cache/internal/invalidation"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	if err := client.Set(ctx, "smoketest", "ok", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, err := client.Get(ctx, "smoketest").Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Println("redis GET smoketest:", val)
	return nil
}

func testAnalytics(baseURL string) error {
	fmt.Println("Analytics test")

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("bad analytics URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	now := time.Now().UTC()
	params := url.Values{}
	params.Set("from", now.AddDate(0, -1, 0).Format("2006-01-02"))
	params.Set("to", now.Format("2006-01-02"))
	params.Set("area", "Toronto")
	params.Set("area_kind", "city")
	u.RawQuery = params.Encode()

	resp, err := http.Get(u.String())
	if err != nil {
		return fmt.Errorf("http get analytics: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analytics status %d: %s", resp.StatusCode, string(b))
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	fmt.Println("analytics sample:")
	fmt.Println(string(body))
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := invalidation.Event{
		Op:          "ingest",
		Resource:    "market",
		Area:        "Toronto",
		AreaKind:    "city",
		FeedVersion: uint64(time.Now().UnixNano()),
	}
	msgBytes, _ := json.Marshal(ev)
	_, _, err = prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Println("produced one ingest event")

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		pc, err = consumer.ConsumePartition(topic, 0, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("consume partition: %w", err)
		}
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}

	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	analyticsURL := getenv("ANALYTICS_URL", "http://localhost:8085/api/market-analytics")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "market-data-ingest")

	failed := false
	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("redis:", err)
		failed = true
	}
	if err := testAnalytics(analyticsURL); err != nil {
		fmt.Println("analytics:", err)
		failed = true
	}
	if err := testKafka(brokers, topic); err != nil {
		fmt.Println("kafka:", err)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}
