package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/jayple/booking-dispatch/pkg/assignment"
	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/scheduler"
	dydbstore "github.com/jayple/booking-dispatch/pkg/storage/dynamodb"
)

var handler *assignment.TimeoutHandler

func init() {
	// Load environment variables from .env file (useful for local testing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Initialize dependencies once.
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	store := dydbstore.New(dynamodb.NewFromConfig(cfg), tablesFromEnv())

	sqsQueueURL := os.Getenv("SQS_TIMEOUT_QUEUE_URL")
	if sqsQueueURL == "" {
		log.Fatal("SQS_TIMEOUT_QUEUE_URL environment variable not set")
	}
	sched := scheduler.NewSQSScheduler(sqs.NewFromConfig(cfg), sqsQueueURL)

	engine := assignment.NewEngine(clock.Real{})
	handler = assignment.NewTimeoutHandler(store, engine, sched, logger)
}

// HandleRequest processes delayed assignment-timeout tasks from SQS.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) error {
	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		var task scheduler.TimeoutTask
		if err := json.Unmarshal([]byte(message.Body), &task); err != nil {
			log.Printf("ERROR: failed to unmarshal timeout task from SQS message %s: %v", message.MessageId, err)
			// A malformed body never becomes valid; drop it rather than retry.
			continue
		}

		if err := handler.Handle(ctx, task); err != nil {
			log.Printf("ERROR: timeout check failed for booking %s: %v", task.BookingID, err)
			// The booking stays in its last durable state; the queue's redrive
			// policy decides what happens to the message.
			return err
		}
	}

	return nil
}

func main() {
	lambda.Start(HandleRequest)
}

func tablesFromEnv() dydbstore.Tables {
	tables := dydbstore.Tables{
		Bookings:     os.Getenv("DYNAMODB_BOOKINGS_TABLE_NAME"),
		StatusEvents: os.Getenv("DYNAMODB_STATUS_EVENTS_TABLE_NAME"),
		Freelancers:  os.Getenv("DYNAMODB_FREELANCERS_TABLE_NAME"),
		Services:     os.Getenv("DYNAMODB_SERVICES_TABLE_NAME"),
		Ledger:       os.Getenv("DYNAMODB_LEDGER_TABLE_NAME"),
		Accounts:     os.Getenv("DYNAMODB_ACCOUNTS_TABLE_NAME"),
		Blocked:      os.Getenv("DYNAMODB_BLOCKED_ACCOUNTS_TABLE_NAME"),
		Settlements:  os.Getenv("DYNAMODB_SETTLEMENTS_TABLE_NAME"),
	}
	if tables.Bookings == "" || tables.StatusEvents == "" || tables.Freelancers == "" ||
		tables.Services == "" || tables.Ledger == "" || tables.Accounts == "" ||
		tables.Blocked == "" || tables.Settlements == "" {
		log.Fatal("One or more DynamoDB table name environment variables are not set")
	}
	return tables
}
