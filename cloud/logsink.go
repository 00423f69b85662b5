package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/sirupsen/logrus"
)

var sinkLog = logrus.WithFields(logrus.Fields{
	"component": "logsink",
})

// LogSink appends the run's narration to a CloudWatch Logs stream. The
// stream is created once, up front, and the handle is threaded through
// the run explicitly. The sink is narration only: a failed put never
// influences the run, and a nil sink discards everything.
type LogSink struct {
	client *cloudwatchlogs.Client
	group  string
	stream string
	token  *string
}

// NewLogSink creates the log stream and returns a sink bound to it. An
// already existing stream is reused.
func NewLogSink(ctx context.Context, client *cloudwatchlogs.Client, group, stream string) (*LogSink, error) {
	_, err := client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil {
		var exists *cwltypes.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("create log stream %s/%s: %w", group, stream, err)
		}
	}
	return &LogSink{client: client, group: group, stream: stream}, nil
}

// Put appends one timestamped message to the stream.
func (s *LogSink) Put(ctx context.Context, message string) {
	if s == nil {
		return
	}

	out, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: aws.String(s.stream),
		SequenceToken: s.token,
		LogEvents: []cwltypes.InputLogEvent{
			{
				Message:   aws.String(message),
				Timestamp: aws.Int64(time.Now().UnixMilli()),
			},
		},
	})
	if err != nil {
		sinkLog.Warnf("cannot put log event: %v", err)
		return
	}
	s.token = out.NextSequenceToken
}
