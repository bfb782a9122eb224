package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"session-service/internal/bucketing"
	"session-service/internal/client"
	"session-service/internal/models"
	"session-service/internal/util"
)

const clickhouseInsert = `
    INSERT INTO security_events
        (event_bucket, event_date, event_time, event_type, user_id, session_id, ip_address, details)
    VALUES`

// Recorder fans security events out to the Kafka topic, the Elasticsearch
// index and the ClickHouse table. Recording is asynchronous and best
// effort: an auth flow never fails because an analytics sink is down. Sinks
// left nil are skipped.
type Recorder struct {
	producer  *client.KafkaProducer
	es        *client.ESClient
	ch        *client.ClickHouseClient
	bucketing *bucketing.BucketingManager
	topic     string
	index     string
	wg        sync.WaitGroup
}

func NewRecorder(
	producer *client.KafkaProducer,
	es *client.ESClient,
	ch *client.ClickHouseClient,
	bucketingMgr *bucketing.BucketingManager,
	topic, index string,
) *Recorder {
	return &Recorder{
		producer:  producer,
		es:        es,
		ch:        ch,
		bucketing: bucketingMgr,
		topic:     topic,
		index:     index,
	}
}

// Record queues the event for delivery and returns immediately. The write
// runs on its own deadline, detached from the request context.
func (r *Recorder) Record(event *models.SecurityEvent) {
	event.EventTime = time.Now().UTC()
	event.EventDate = r.bucketing.DateBucket(event.EventTime)
	event.EventBucket = r.bucketing.EventBucket(event.UserID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := r.deliver(ctx, event); err != nil {
			util.Warn("Security event delivery incomplete",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}()
}

func (r *Recorder) deliver(ctx context.Context, event *models.SecurityEvent) error {
	g, ctx := errgroup.WithContext(ctx)

	if r.producer != nil {
		g.Go(func() error {
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			headers := map[string]string{"event_type": event.EventType}
			return r.producer.ProduceMessage(ctx, r.topic, []byte(event.UserID), payload, headers)
		})
	}

	if r.es != nil {
		g.Go(func() error {
			resp, err := r.es.IndexDocument(ctx, r.index, uuid.New().String(), event)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.IsError() {
				return fmt.Errorf("elasticsearch rejected event: %s", resp.String())
			}
			return nil
		})
	}

	if r.ch != nil {
		g.Go(func() error {
			var ip string
			if event.IPAddress != nil {
				ip = event.IPAddress.String()
			}
			row := [][]interface{}{{
				event.EventBucket, event.EventDate, event.EventTime, event.EventType,
				event.UserID, event.SessionID, ip, event.Details,
			}}
			return r.ch.BatchInsert(ctx, clickhouseInsert, row)
		})
	}

	return g.Wait()
}

// Close waits for in-flight deliveries. Called during shutdown.
func (r *Recorder) Close() {
	r.wg.Wait()
}
