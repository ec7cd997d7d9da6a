package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/jayple/booking-dispatch/pkg/clock"
	"github.com/jayple/booking-dispatch/pkg/ledger"
	"github.com/jayple/booking-dispatch/pkg/settlement"
	dydbstore "github.com/jayple/booking-dispatch/pkg/storage/dynamodb"
)

var engine *settlement.Engine

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

	clk := clock.Real{}
	engine = settlement.NewEngine(store, ledger.NewEngine(clk), clk, logger)
}

// HandleRequest runs the weekly settlement batch. The function is invoked on
// an EventBridge schedule; deterministic settlement ids make accidental
// double invocations harmless.
func HandleRequest(ctx context.Context) error {
	summary, err := engine.RunWeeklySettlements(ctx)
	if err != nil {
		log.Printf("ERROR: settlement batch failed: %v", err)
		return err
	}

	log.Printf("Settlement batch %s: %d accounts, %d paid, %d carried forward, %d skipped, %d failed",
		summary.PeriodID, summary.Accounts, summary.Paid, summary.CarriedForward, summary.Skipped, summary.Failed)
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
