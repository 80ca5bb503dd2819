package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/errs"
)

// Message is one human-readable notification
type Message struct {
	Subject string
	Body    string
}

// Publisher delivers messages to subscribers
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// SNSAPI is the part of the SNS client used here
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes to a topic
type SNS struct {
	client   SNSAPI
	topicARN string
}

func NewSNS(client SNSAPI, topicARN string) *SNS {
	return &SNS{client: client, topicARN: topicARN}
}

func (s *SNS) Publish(ctx context.Context, msg Message) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(msg.Subject),
		Message:  aws.String(msg.Body),
	})
	if err != nil {
		return errs.Platform("publish notification", err)
	}
	return nil
}

// Recorder keeps published messages in memory
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of everything published so far
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Log writes messages to a logger instead of sending them
type Log struct {
	Logger *log.Logger
}

func (l Log) Publish(_ context.Context, msg Message) error {
	l.Logger.Print(fmt.Sprintf("%s\n%s", msg.Subject, msg.Body))
	return nil
}
