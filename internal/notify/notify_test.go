package notify_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/notify"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNSPublish(t *testing.T) {
	t.Parallel()

	client := &fakeSNS{}
	p := notify.NewSNS(client, "arn:aws:sns:us-east-1:123456789012:mlops")

	require.NoError(t, p.Publish(context.Background(), notify.Message{Subject: "[MLOps] Model Pipeline SUCCESS", Body: "hello"}))
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:mlops", aws.ToString(client.inputs[0].TopicArn))
	assert.Equal(t, "[MLOps] Model Pipeline SUCCESS", aws.ToString(client.inputs[0].Subject))
	assert.Equal(t, "hello", aws.ToString(client.inputs[0].Message))
}

func TestSNSPublishFailureIsPlatformError(t *testing.T) {
	t.Parallel()

	p := notify.NewSNS(&fakeSNS{err: assert.AnError}, "topic")
	err := p.Publish(context.Background(), notify.Message{Subject: "s"})
	assert.ErrorIs(t, err, errs.ErrPlatform)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r notify.Recorder
	require.NoError(t, r.Publish(context.Background(), notify.Message{Subject: "a"}))
	assert.Equal(t, []notify.Message{{Subject: "a"}}, r.Messages())
}
