package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/wolfman30/medassist-platform/internal/portal"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

const reviewEventType = "review.requested.v1"

// ReviewEvent announces a patient assist reply waiting for clinician review.
type ReviewEvent struct {
	EventID        string         `json:"eventId"`
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	PatientRef     string         `json:"patientRef"`
	Title          string         `json:"title"`
	UrgencyLevel   portal.Urgency `json:"urgencyLevel,omitempty"`
	Excerpt        string         `json:"excerpt"`
	RequestedAt    time.Time      `json:"requestedAt"`
}

// ReviewQueue carries review-requested events between the API and the worker.
type ReviewQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received queue entry.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

func encodeReviewEvent(evt ReviewEvent) (ReviewEvent, string, error) {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	evt.Type = reviewEventType
	body, err := json.Marshal(evt)
	if err != nil {
		return ReviewEvent{}, "", fmt.Errorf("conversation: failed to encode review event: %w", err)
	}
	return evt, string(body), nil
}

func decodeReviewEvent(body string) (ReviewEvent, error) {
	var evt ReviewEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return ReviewEvent{}, fmt.Errorf("conversation: failed to decode review event: %w", err)
	}
	if evt.Type != reviewEventType {
		return ReviewEvent{}, fmt.Errorf("conversation: unexpected event type %q", evt.Type)
	}
	return evt, nil
}

// QueuePublisher publishes review events onto a queue for the review worker.
type QueuePublisher struct {
	queue  ReviewQueue
	logger *logging.Logger
}

func NewQueuePublisher(queue ReviewQueue, logger *logging.Logger) *QueuePublisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueuePublisher{queue: queue, logger: logger}
}

func (p *QueuePublisher) PublishReviewRequested(ctx context.Context, evt ReviewEvent) error {
	evt, body, err := encodeReviewEvent(evt)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue review event: %w", err)
	}
	p.logger.Debug("review event enqueued", "event_id", evt.EventID, "conversation_id", evt.ConversationID)
	return nil
}

// MemoryQueue is a ReviewQueue backed by a buffered channel. Used for local runs and tests.
// Like SQS, a received message that is not deleted within the visibility
// timeout is delivered again under a new receipt handle.
type MemoryQueue struct {
	ch         chan QueueMessage
	visibility time.Duration

	mu       sync.Mutex
	inflight map[string]*time.Timer
}

const defaultMemoryVisibility = 30 * time.Second

type MemoryQueueOption func(*MemoryQueue)

// WithVisibilityTimeout sets how long a received message stays hidden before redelivery.
func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

func NewMemoryQueue(buffer int, opts ...MemoryQueueOption) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	q := &MemoryQueue{
		ch:         make(chan QueueMessage, buffer),
		visibility: defaultMemoryVisibility,
		inflight:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues body or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := QueueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for at least one message. Zero waits until ctx is done.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		out := q.collect(msg, maxMessages)
		for _, m := range out {
			q.hide(m)
		}
		return out, nil
	}
}

// Delete acknowledges a received message so it is not delivered again.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.inflight[receiptHandle]; ok {
		timer.Stop()
		delete(q.inflight, receiptHandle)
	}
	return nil
}

func (q *MemoryQueue) collect(first QueueMessage, max int) []QueueMessage {
	out := []QueueMessage{first}
	for len(out) < max {
		select {
		case msg := <-q.ch:
			out = append(out, msg)
		default:
			return out
		}
	}
	return out
}

// hide tracks msg as in flight until it is deleted or its visibility lapses.
func (q *MemoryQueue) hide(msg QueueMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight[msg.ReceiptHandle] = time.AfterFunc(q.visibility, func() { q.redeliver(msg) })
}

func (q *MemoryQueue) redeliver(msg QueueMessage) {
	q.mu.Lock()
	if _, ok := q.inflight[msg.ReceiptHandle]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.inflight, msg.ReceiptHandle)
	q.mu.Unlock()

	msg.ReceiptHandle = uuid.NewString()
	select {
	case q.ch <- msg:
	default:
		// Buffer full; keep the message hidden and try again later.
		q.hide(msg)
	}
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements ReviewQueue on AWS SQS (or LocalStack).
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("conversation: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("conversation: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to send SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to receive SQS messages: %w", err)
	}
	messages := make([]QueueMessage, 0, len(out.Messages))
	for _, msg := range out.Messages {
		messages = append(messages, QueueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to delete SQS message: %w", err)
	}
	return nil
}
