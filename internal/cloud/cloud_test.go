package cloud

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNS_InverterOffline(t *testing.T) {
	t.Parallel()
	f := &fakeSNS{}
	c := &SNSClient{svc: f, topicArn: "arn:aws:sns:eu-west-1:123456789012:energy"}

	since := time.Date(2024, 4, 28, 20, 0, 0, 0, time.UTC)
	if err := c.SendInverterOffline(context.Background(), "192.168.1.50:502", since, errors.New("i/o timeout")); err != nil {
		t.Fatalf("SendInverterOffline: %v", err)
	}
	if len(f.inputs) != 1 {
		t.Fatalf("published %d messages, want 1", len(f.inputs))
	}
	in := f.inputs[0]
	if got, want := aws.ToString(in.TopicArn), c.topicArn; got != want {
		t.Fatalf("topic=%q want %q", got, want)
	}
	msg := aws.ToString(in.Message)
	for _, want := range []string{"192.168.1.50:502", "2024-04-28T20:00:00Z", "i/o timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestSNS_PublishError(t *testing.T) {
	t.Parallel()
	boom := errors.New("throttled")
	c := &SNSClient{svc: &fakeSNS{err: boom}}
	if err := c.SendInverterOnline(context.Background(), "inverter", time.Minute); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestS3_UploadDownloadList(t *testing.T) {
	t.Parallel()
	c := &S3Client{svc: &fakeS3{objects: map[string][]byte{}}, bucket: "energy-exports"}
	ctx := context.Background()

	if err := c.UploadDataFile(ctx, "electricity/2024-03.json", []byte(`[]`)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := c.UploadDataFile(ctx, "solar/2024-03.json", []byte(`[{}]`)); err != nil {
		t.Fatalf("upload: %v", err)
	}

	data, err := c.DownloadFile(ctx, "electricity/2024-03.json")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got, want := string(data), `[]`; got != want {
		t.Fatalf("data=%q want %q", got, want)
	}

	keys, err := c.ListDataFiles(ctx, "electricity/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"electricity/2024-03.json"}; !slices.Equal(keys, want) {
		t.Fatalf("keys=%v want %v", keys, want)
	}

	var nsk *types.NoSuchKey
	if _, err := c.DownloadFile(ctx, "missing.json"); !errors.As(err, &nsk) {
		t.Fatalf("err=%v want NoSuchKey", err)
	}
}
