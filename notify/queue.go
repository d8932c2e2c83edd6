package notify

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

type enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Envelope is the queue message carrying one notification.
type Envelope struct {
	UserID       string       `json:"userId"`
	Notification Notification `json:"notification"`
}

// Queue forwards notifications to an Azure queue for out of process delivery.
type Queue struct {
	client enqueuer
	logger *log.Logger
}

// NewQueue connects to the named queue.
func NewQueue(connStr, queueName string, logger *log.Logger) (*Queue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newQueue(client, logger), nil
}

func newQueue(client enqueuer, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Queue{client: client, logger: logger}
}

// ForUser returns an Emitter stamping every message with userID.
func (q *Queue) ForUser(userID string) Emitter {
	return queueEmitter{queue: q, userID: userID}
}

type queueEmitter struct {
	queue  *Queue
	userID string
}

func (e queueEmitter) Emit(ctx context.Context, n Notification) {
	data, err := sonic.Marshal(Envelope{UserID: e.userID, Notification: n})
	if err != nil {
		e.queue.logger.WithError(err).Error("marshal notification envelope")
		return
	}
	if _, err := e.queue.client.EnqueueMessage(ctx, string(data), nil); err != nil {
		e.queue.logger.WithError(err).WithFields(log.Fields{
			"user":  e.userID,
			"title": n.Title,
		}).Error("failed to enqueue notification")
	}
}
