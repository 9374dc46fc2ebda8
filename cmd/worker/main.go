package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"loancheck-backend/internal/bootstrap"
	"loancheck-backend/internal/shared/config"
	"loancheck-backend/internal/shared/telemetry"
	"loancheck-backend/internal/workerproc"
)

const (
	sqsDefaultRegion          = "us-east-1"
	defaultVisibilitySeconds  = 300
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
	defaultReconcileInterval  = 60
	defaultStalledAfterSec    = 300
	defaultReconcileBatch     = 20
)

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(os.Getenv("LC_SQS_QUEUE_URL"))
	if queueURL == "" {
		log.Fatal("LC_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("LC_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("LC_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("LC_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = sqsDefaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	sem := make(chan struct{}, maxInt(1, concurrency))
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runReconciler(ctx, app)
	}()

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds", queueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, app, sqsClient, queueURL, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, app *bootstrap.App, client sqsAPI, queueURL string, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	if strings.TrimSpace(body) == "" {
		fields := baseFields(msg, "", "")
		fields["body_len"] = 0
		telemetry.Error("worker.step.empty_body", fields)
		deleteMessage(ctx, client, queueURL, msg, "", "")
		return
	}

	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		switch e := err.(type) {
		case workerproc.ErrDecode:
			fields := baseFields(msg, "", "")
			fields["body_len"] = meta.BodyLen
			fields["body_sha256"] = meta.BodySHA
			fields["error"] = e.Err.Error()
			telemetry.Error("worker.step.decode_failed", fields)
		case workerproc.ErrMissingVerificationID:
			fields := baseFields(msg, "", e.RequestID)
			fields["body_len"] = meta.BodyLen
			fields["body_sha256"] = meta.BodySHA
			telemetry.Error("worker.step.missing_id", fields)
		default:
			fields := baseFields(msg, "", "")
			fields["body_len"] = meta.BodyLen
			if meta.BodySHA != "" {
				fields["body_sha256"] = meta.BodySHA
			}
			fields["error"] = err.Error()
			telemetry.Error("worker.step.decode_failed", fields)
		}
		// Malformed payloads never become valid; delete instead of redelivering.
		deleteMessage(ctx, client, queueURL, msg, "", "")
		return
	}

	telemetry.Info("worker.step.received", baseFields(msg, decoded.VerificationID, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, app.VerificationsService, body); err != nil {
		fields := baseFields(msg, decoded.VerificationID, decoded.RequestID)
		if procErr, ok := err.(workerproc.ErrProcess); ok {
			fields = baseFields(msg, procErr.VerificationID, procErr.RequestID)
			fields["error"] = procErr.Err.Error()
		} else {
			fields["error"] = err.Error()
		}
		telemetry.Error("worker.step.failed", fields)
		// Leave the message in flight so SQS redelivers after the
		// visibility timeout.
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.VerificationID, decoded.RequestID) {
		telemetry.Info("worker.step.completed", baseFields(msg, decoded.VerificationID, decoded.RequestID))
	}
}

func runReconciler(ctx context.Context, app *bootstrap.App) {
	interval := time.Duration(envInt("LC_RECONCILE_INTERVAL_SECONDS", defaultReconcileInterval)) * time.Second
	stalledAfter := time.Duration(envInt("LC_STALLED_AFTER_SECONDS", defaultStalledAfterSec)) * time.Second
	batch := envInt("LC_RECONCILE_BATCH", defaultReconcileBatch)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("reconciler started interval=%s stalled_after=%s batch=%d", interval, stalledAfter, batch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resumed, err := app.VerificationsService.ResumeStalled(ctx, stalledAfter, batch)
		if err != nil {
			telemetry.Error("worker.reconcile.failed", map[string]any{"error": err.Error()})
			continue
		}
		if resumed > 0 {
			telemetry.Info("worker.reconcile.resumed", map[string]any{"count": resumed})
		}
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, verificationID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, verificationID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.step.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, verificationID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.step.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, verificationID, requestID string) map[string]any {
	fields := map[string]any{
		"verification_id": verificationID,
		"sqs_message_id":  aws.ToString(msg.MessageId),
		"receive_count":   receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
