package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dashieapp/dashie-auth/deviceflow"
	"github.com/dashieapp/dashie-auth/internal/config"
	"github.com/dashieapp/dashie-auth/internal/logging"
	"github.com/dashieapp/dashie-auth/server"
	"github.com/dashieapp/dashie-auth/token"
	"github.com/dashieapp/dashie-auth/token/refresh"
)

const cleanupInterval = 1 * time.Minute

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment\n")
	}

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetDataFolder())
	displayAppname(c.GetAppName())

	flow, err := newDeviceFlowService(c)
	if err != nil {
		return fmt.Errorf("device flow service: %w", err)
	}

	srv, err := server.New(c, flow)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	go runCleanup(cleanupCtx, flow)

	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func newDeviceFlowService(c config.Config) (*deviceflow.Service, error) {
	repos := newRepos(c)

	signer, err := token.NewHMACSigner(c.GetCredentialSecret())
	if err != nil {
		return nil, fmt.Errorf("token.NewHMACSigner: %w", err)
	}
	issuer := token.NewIssuer(signer, c.GetBaseURL(), token.WithAccessExpiry(c.GetAccessTokenExpiry()))
	refreshTokens := refresh.NewManager(refresh.NewInMemoryRepo(), c)

	return deviceflow.NewService(
		repos,
		issuer,
		refreshTokens,
		c.GetBaseURL()+"/activate",
		deviceflow.WithTicketTTL(c.GetDeviceCodeExpiry(), c.GetPollInterval()),
	)
}

func newRepos(c config.Config) deviceflow.Repos {
	redisAddr := c.GetRedisAddr()
	if redisAddr == "" {
		log.Printf("REDIS_ADDR not set, using in-memory ticket store\n")
		return deviceflow.Repos{
			Tickets: deviceflow.NewInMemoryRepo(),
			Grants:  deviceflow.NewInMemoryGrantRepo(),
		}
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	log.Printf("Using redis ticket store at %s\n", redisAddr)
	return deviceflow.Repos{
		Tickets: deviceflow.NewRedisRepo(client),
		Grants:  deviceflow.NewRedisGrantRepo(client, c.GetRefreshTokenExpiry()),
	}
}

func runCleanup(ctx context.Context, flow *deviceflow.Service) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := flow.CleanupExpired(ctx); err != nil {
				log.Printf("Ticket cleanup failed: %v\n", err)
			} else if n > 0 {
				log.Printf("Removed %d expired tickets\n", n)
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
