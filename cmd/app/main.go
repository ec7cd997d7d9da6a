package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/jayple/booking-dispatch/pkg/assignment"
	"github.com/jayple/booking-dispatch/pkg/booking"
	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/handlers"
	"github.com/jayple/booking-dispatch/pkg/handlers/bookings"
	ledgerhandler "github.com/jayple/booking-dispatch/pkg/handlers/ledger"
	paymenthandler "github.com/jayple/booking-dispatch/pkg/handlers/payments"
	"github.com/jayple/booking-dispatch/pkg/handlers/settlements"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/payments"
	"github.com/jayple/booking-dispatch/pkg/scheduler"
	"github.com/jayple/booking-dispatch/pkg/settlement"
	dydbstore "github.com/jayple/booking-dispatch/pkg/storage/dynamodb"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// AWS Session
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	tables := tablesFromEnv()

	dbClient := dynamodb.NewFromConfig(cfg)
	store := dydbstore.New(dbClient, tables)

	// SQS Client and Scheduler
	sqsClient := sqs.NewFromConfig(cfg)
	sqsQueueURL := os.Getenv("SQS_TIMEOUT_QUEUE_URL")
	if sqsQueueURL == "" {
		log.Fatal("SQS_TIMEOUT_QUEUE_URL environment variable not set")
	}
	sqsScheduler := scheduler.NewSQSScheduler(sqsClient, sqsQueueURL)

	clk := clock.Real{}
	ledgerEngine := ledger.NewEngine(clk)
	assignEngine := assignment.NewEngine(clk)
	paymentEngine := payments.NewEngine(store, ledgerEngine, clk)
	bookingEngine := booking.NewEngine(store, sqsScheduler, assignEngine, ledgerEngine, paymentEngine, clk, logger)
	settlementEngine := settlement.NewEngine(store, ledgerEngine, clk, logger)

	router := handlers.NewRouter(handlers.Deps{
		Bookings:    bookings.NewHandler(bookingEngine),
		Payments:    paymenthandler.NewHandler(paymentEngine),
		Settlements: settlements.NewHandler(settlementEngine),
		Ledger:      ledgerhandler.NewHandler(store, ledgerEngine),
		Logger:      logger,
	})

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080" // Default port if not specified
	}

	log.Printf("Starting server on port %s", port)

	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
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
