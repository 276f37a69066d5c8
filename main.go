package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bartek5186/hurtownia/internal/auth"
	"github.com/bartek5186/hurtownia/internal/catalog"
	conf "github.com/bartek5186/hurtownia/internal/config"
	"github.com/bartek5186/hurtownia/internal/db"
	"github.com/bartek5186/hurtownia/internal/httpapi"
	"github.com/bartek5186/hurtownia/internal/importer"
	"github.com/bartek5186/hurtownia/internal/logs"
	"github.com/bartek5186/hurtownia/internal/notify"
	"github.com/bartek5186/hurtownia/internal/orders"
	"github.com/bartek5186/hurtownia/internal/tasks"
)

// wersję możesz nadpisać przez: -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

func main() {
	appDir := mustAppDataDir("hurtownia")

	cfgPath := flag.String("config", filepath.Join(appDir, "config.json"), "plik konfiguracji")
	importFile := flag.String("import", "", "jednorazowy import cennika z pliku (bez serwera)")
	importUser := flag.Uint("user", 0, "id partnera dla -import")
	tokenFor := flag.String("token", "", "wystaw token dev: <user_id>:<shop|buyer>")
	flag.Parse()

	cfg, firstRun, err := conf.LoadOrCreate(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logs.New(filepath.Join(appDir, "app.log"), cfg.Log.Console, cfg.Log.Level)
	if firstRun {
		log.Info().Str("path", *cfgPath).Msg("Utworzono domyślną konfigurację")
	}

	if *tokenFor != "" {
		if err := printToken(cfg, *tokenFor); err != nil {
			log.Fatal().Err(err).Msg("token")
		}
		return
	}

	h, err := db.Open(cfg.DB.Driver, cfg.DB.DSN, log, cfg.DB.LogSQL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("nie mogę otworzyć bazy")
	}
	defer h.Close()
	if err := db.Migrate(h.DB); err != nil {
		log.Fatal().Err(err).Msg("migracja bazy nieudana")
	}

	// kontekst sterujący życiem procesu (CTRL+C / SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	queue := tasks.NewQueue(h.DB)
	imp := importer.New(log, h.DB, queue, importer.Options{
		FetchTimeout: cfg.FetchTimeout(),
		MaxBytes:     cfg.Importer.MaxDocumentBytes,
		Async:        cfg.Importer.Async && *importFile == "",
	})

	if *importFile != "" {
		if err := runImport(ctx, log, imp, *importFile, *importUser); err != nil {
			log.Fatal().Err(err).Str("file", *importFile).Msg("import nieudany")
		}
		return
	}

	notifier, closeNotifier, err := newNotifier(log, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier")
	}
	defer closeNotifier()

	reg := tasks.NewRegistry()
	reg.Register(importer.TaskKind, imp.Handler())
	reg.Register(orders.ConfirmationTask, notify.ConfirmationHandler(h.DB, notifier))

	worker := tasks.NewWorker(log, h.DB, queue, reg, tasks.Options{
		Concurrency: cfg.Worker.Concurrency,
		Poll:        cfg.PollInterval(),
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     time.Duration(cfg.Worker.BackoffSec) * time.Second,
	})
	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start workera nieudany")
	}

	api := httpapi.New(log, httpapi.Deps{
		DB:             h.DB,
		Catalog:        catalog.NewService(h.DB),
		Orders:         orders.NewService(log, h.DB, orders.StoreContacts{DB: h.DB}, queue),
		Importer:       imp,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		MaxUploadBytes: cfg.Importer.MaxDocumentBytes,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("ver", ver).Str("db", h.Driver).Msg("hurtownia startuje")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("zamykanie...")
	case err := <-errCh:
		log.Error().Err(err).Msg("serwer HTTP padł")
	}

	// łagodne zamykanie: najpierw HTTP, potem worker
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown HTTP")
	}
	worker.Stop()
	log.Info().Msg("zatrzymano")
}

func newNotifier(log zerolog.Logger, cfg *conf.Config) (notify.Notifier, func(), error) {
	switch cfg.Notify.Driver {
	case "kafka":
		k, err := notify.NewKafkaNotifier(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Strs("brokers", cfg.Notify.KafkaBrokers).Str("topic", cfg.Notify.KafkaTopic).Msg("potwierdzenia przez kafkę")
		return k, k.Close, nil
	default:
		return notify.NewLogNotifier(log), func() {}, nil
	}
}

func runImport(ctx context.Context, log zerolog.Logger, imp *importer.Importer, path string, userID uint) error {
	if userID == 0 {
		return errors.New("-user is required with -import")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rec, err := imp.Submit(ctx, userID, importer.Source{Data: data, Name: filepath.Base(path)})
	if err != nil {
		return err
	}
	log.Info().Str("ref", rec.Ref).Str("shop", rec.ShopName).Bool("unchanged", rec.Unchanged).
		Int("product_infos", rec.ProductInfos).Int("categories", rec.Categories).Msg("import zakończony")
	return nil
}

// printToken wypisuje token do testów ręcznych, np. -token 7:shop.
func printToken(cfg *conf.Config, arg string) error {
	idPart, role, _ := strings.Cut(arg, ":")
	uid, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || uid == 0 {
		return fmt.Errorf("bad -token %q, expected <user_id>:<role>", arg)
	}
	if role == "" {
		role = auth.RoleBuyer
	}
	tok, err := auth.Sign([]byte(cfg.Auth.JWTSecret), auth.Identity{UserID: uint(uid), Role: role}, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func mustAppDataDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}
