package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"asesor-agent/handler"
	"asesor-agent/internal/identity"
	"asesor-agent/internal/integrations/gemini"
	"asesor-agent/internal/integrations/identitytoolkit"
	"asesor-agent/internal/integrations/knowledgebase"
	"asesor-agent/internal/integrations/paramstore"
	"asesor-agent/internal/integrations/websearch"
	"asesor-agent/internal/quota"
	"asesor-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	quotaTable := mustEnv("QUOTA_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	knowledgeBaseURL := mustEnv("KNOWLEDGE_BASE_URL")
	maxHistoryTurns := envInt("MAX_HISTORY_TURNS", 4)
	maxQuestionLen := envInt("MAX_QUESTION_LENGTH", 2000)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	quotaStore, err := quota.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), quotaTable)
	if err != nil {
		slog.Error("failed to create quota store", "err", err)
		os.Exit(1)
	}

	geminiClient, err := gemini.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create Gemini client", "err", err)
		os.Exit(1)
	}
	searchClient, err := websearch.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create web search client", "err", err)
		os.Exit(1)
	}
	kbClient, err := knowledgebase.NewClient(knowledgeBaseURL)
	if err != nil {
		slog.Error("failed to create knowledge base client", "err", err)
		os.Exit(1)
	}
	verifier, err := identitytoolkit.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create identity toolkit client", "err", err)
		os.Exit(1)
	}
	resolver, err := identity.NewResolver(verifier)
	if err != nil {
		slog.Error("failed to create identity resolver", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	answerService, err := usecase.NewAnswerService(ssmClient, geminiClient, searchClient, kbClient, resolver, quotaStore, paramPrefix, maxHistoryTurns, maxQuestionLen)
	if err != nil {
		slog.Error("failed to create answer service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(answerService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
