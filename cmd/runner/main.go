package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	internalconfig "github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/logger"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/notify"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/runner"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.Init(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)

	cfg, err := internalconfig.LoadRunner()
	if err != nil {
		log.Fatal("Failed to load runner config", zap.Error(err))
	}

	log.Info("Runner starting",
		zap.String("execution_id", cfg.ExecutionID),
		zap.String("meeting_id", cfg.MeetingID),
		zap.String("transcript_id", cfg.TranscriptID),
	)

	ctx := context.Background()
	r := runner.New(cfg, buildAgentInput, log)

	deployedURL, cancelled, err := r.Run(ctx)
	if err != nil {
		log.Error("Runner failed", zap.Error(err))
		os.Exit(1)
	}
	if cancelled {
		log.Info("Runner exiting after cancellation")
		return
	}

	chatCfg := internalconfig.ChatConfig{
		WebhookURL: os.Getenv("CHAT_WEBHOOK_URL"),
		Secret:     os.Getenv("CHAT_WEBHOOK_SECRET"),
	}
	chat := notify.NewChatNotifier(&chatCfg, log)
	if err := chat.NotifyDeployed(ctx, cfg.ExecutionID, deployedURL); err != nil {
		log.Warn("Failed to send deployed notification", zap.Error(err))
	}
}

// buildAgentInput assembles the prompt handed to the agent. The transcript
// content itself is fetched by the agent through its own tooling; this
// side only pins down which transcript to analyze.
func buildAgentInput(_ context.Context, cfg *internalconfig.RunnerConfig) (string, error) {
	return fmt.Sprintf(
		"Analyze the meeting transcript %s of meeting %s in tenant %s. "+
			"Produce the insights dashboard, deploy it, and print exactly one line "+
			"DEPLOYED_URL=<url> on success.\n",
		cfg.TranscriptID, cfg.MeetingID, cfg.TenantID,
	), nil
}
