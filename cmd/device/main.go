// Command device signs a terminal in as one device and keeps it signed in
// until another device takes the account over.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"quantumbulls-session/internal/client"
	"quantumbulls-session/internal/config"
	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadClient()

	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "session server base URL")
	flag.StringVar(&cfg.StoragePath, "storage", cfg.StoragePath, "local session file")
	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "authority poll interval")
	flag.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "warning period before sign-out")
	email := flag.String("email", os.Getenv("SESSION_EMAIL"), "account email")
	deviceName := flag.String("name", hostname(), "device name shown to other devices")
	rememberMe := flag.Bool("remember", false, "request a long-lived credential")
	logout := flag.Bool("logout", false, "sign this device out and exit")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *logout {
		storage := client.NewFileStorage(cfg.StoragePath)
		if err := client.Logout(ctx, nil, storage, client.NewAPI(cfg.ServerURL, nil)); err != nil {
			logger.Fatal("logout failed", zap.Error(err))
		}
		fmt.Println("Signed out.")
		return
	}

	if err := run(ctx, cfg, *email, *deviceName, *rememberMe, logger); err != nil {
		if errors.Is(err, xerrors.ErrLoginCancelled) {
			fmt.Println("Sign-in cancelled. The other device stays signed in.")
			return
		}
		logger.Fatal("device stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.ClientConfig, email, name string, rememberMe bool, logger *zap.Logger) error {
	in := bufio.NewReader(os.Stdin)
	storage := client.NewFileStorage(cfg.StoragePath)
	api := client.NewAPI(cfg.ServerURL, nil)

	if client.LocalToken(storage).IsZero() {
		if email == "" {
			email = ask(in, "Email: ")
		}
		password := ask(in, "Password: ")

		resolver := client.NewResolver(api, storage, confirmTakeover(in), logger)
		resp, err := resolver.Login(ctx, auth.LoginRequest{
			Email:      email,
			Password:   password,
			RememberMe: rememberMe,
			Device:     session.DeviceInfo{Type: "cli", Name: name},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s.\n", resp.User.Email)
	}

	revoker := client.NewRevoker(storage, api, func(reason session.Reason) {
		fmt.Printf("Signed out (%s). Sign in again at %s\n", reason, api.ReauthURL(reason))
	}, logger)

	validator := client.NewValidator(
		client.NewAPIAuthority(api, storage),
		client.NewPushFeed(api, storage, logger),
		storage,
		revoker,
		client.ValidatorConfig{
			PollInterval:     cfg.PollInterval,
			GracePeriod:      cfg.GracePeriod,
			ResubscribeDelay: cfg.ResubscribeDelay,
		},
		logger,
	)

	go func() {
		for ev := range validator.Events() {
			if ev.Message != "" {
				fmt.Println(ev.Message)
			}
		}
	}()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	var logoutRequested atomic.Bool
	go func() {
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimSpace(line) == "logout" {
				logoutRequested.Store(true)
				stopRun()
				return
			}
		}
	}()

	fmt.Println("Session active. Type logout to sign out, or press Ctrl+C to quit.")
	if err := validator.Run(runCtx); err != nil || !logoutRequested.Load() {
		return err
	}
	if err := client.Logout(ctx, validator, storage, api); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func confirmTakeover(in *bufio.Reader) client.Prompter {
	return client.PrompterFunc(func(_ context.Context, prior session.RecordView) (bool, error) {
		where := prior.Location.City
		if where == "" {
			where = prior.Location.IP
		}
		fmt.Printf("This account is signed in on %q (%s) since %s.\n",
			prior.Device.Name, where, prior.UpdatedAt.Local().Format("Jan 2 15:04"))
		answer := strings.ToLower(ask(in, "Sign that device out and continue here? [y/N] "))
		return answer == "y" || answer == "yes", nil
	})
}

func ask(in *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "terminal"
	}
	return name
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
