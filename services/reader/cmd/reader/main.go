package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"pdfreader/internal/servicetoken"
	"pdfreader/internal/usertoken"
	"pdfreader/internal/util"
	"pdfreader/pkg/ai"
	"pdfreader/pkg/events"
	"pdfreader/pkg/storage"
	"pdfreader/services/reader/internal/app"
	"pdfreader/services/reader/internal/config"
	"pdfreader/services/reader/internal/outlineclient"
	"pdfreader/services/reader/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
		PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
		KeyID:          cfg.InternalJWTKeyID,
		Issuer:         servicetoken.IssuerReader,
	})
	if err != nil {
		log.Fatalf("failed to init internal jwt signer: %v", err)
	}
	outline, err := outlineclient.NewClient(cfg.OutlineURL, signer)
	if err != nil {
		log.Fatalf("failed to init outline client: %v", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		HMACSecret: cfg.SupabaseJWTSecret,
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	provider := newProvider(cfg)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, events.DefaultExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		Objects:       objects,
		Outline:       outline,
		Events:        publisher,
		Provider:      provider,
		ContextRadius: *cfg.ChatContextPages,
		HistoryLimit:  cfg.ChatHistoryLimit,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		ChatRateLimit:  cfg.ChatRateLimit,
		ShareRateLimit: cfg.ShareRateLimit,
		TrustedProxies: trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	// Streams outlive the write timeout; the SSE writer extends its own
	// deadline per event.
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("reader server listening", "addr", addr, "provider", provider.Name())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newProvider(cfg config.FileConfig) ai.Provider {
	switch cfg.AIProvider {
	case ai.ProviderGigaChat:
		gigaCfg := ai.GigaChatConfig{
			Scope:       cfg.GigaChatScope,
			Model:       cfg.GigaChatModel,
			InsecureTLS: *cfg.GigaChatInsecureTLS,
		}
		tokens := ai.NewCredentialCache(ai.NewGigaChatAuth(gigaCfg), cfg.GigaChatAuthKey)
		return ai.NewGigaChatProvider(gigaCfg, tokens)
	case ai.ProviderMock:
		return ai.NewMockProvider(20 * time.Millisecond)
	default:
		return ai.NewDeepSeekProvider(ai.DeepSeekConfig{
			BaseURL: cfg.DeepSeekBaseURL,
			APIKey:  cfg.DeepSeekAPIKey,
			Model:   cfg.DeepSeekModel,
		})
	}
}
