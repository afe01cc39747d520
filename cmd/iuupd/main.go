package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/config"
	"example.com/iuupgate/internal/dict"
	"example.com/iuupgate/internal/iuup"
	"example.com/iuupgate/internal/metrics"
	"example.com/iuupgate/internal/server"
)

func setupLogging(cfg config.Config) error {
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "iuupd.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	out := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	common.SetOutput(out)
	return nil
}

func serverOptions(cfg config.Config) (server.Options, error) {
	opts := server.Options{
		StorageDir: cfg.StorageDir,
		Decoder: iuup.Options{
			DecodeSubflows: cfg.Decoder.DecodeSubflows,
			PseudoHeader:   cfg.Decoder.PseudoHeader,
		},
		Heuristic:   cfg.Decoder.Heuristic,
		RTP:         cfg.Decoder.RTP,
		MetricsPath: cfg.Metrics.Path,
	}
	store, err := dict.Resolve(cfg.Dictionary)
	if err != nil {
		return opts, fmt.Errorf("dictionary: %w", err)
	}
	if store != nil {
		opts.Decoder.Names = store
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.NewMetrics()
	}
	return opts, nil
}

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults apply when empty)")
	httpAddr := flag.String("addr", "", "HTTP listen address (overrides config)")
	udpAddr := flag.String("udp", "", "UDP listen address for live IuUP (overrides config)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *httpAddr != "" {
		cfg.Listen.HTTP = *httpAddr
	}
	if *udpAddr != "" {
		cfg.Listen.UDP = *udpAddr
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("setup logging: %v", err)
	}

	opts, err := serverOptions(cfg)
	if err != nil {
		log.Fatalf("server options: %v", err)
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	var udp *server.UDPListener
	if cfg.Listen.UDP != "" {
		udp = server.NewUDPListener(srv, cfg.Listen.UDP, cfg.Listen.BufferSize)
		if err := udp.Start(); err != nil {
			log.Fatalf("udp: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	log.Printf("iuupd listening on %s", cfg.Listen.HTTP)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	if udp != nil {
		if err := udp.Stop(); err != nil {
			log.Printf("udp stop: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("iuupd stopped")
}
