package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"filippo.io/age"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/cli"
	"github.com/tis24dev/cpanelsave/internal/config"
	"github.com/tis24dev/cpanelsave/internal/cpanel"
	"github.com/tis24dev/cpanelsave/internal/ftp"
	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/notify"
	"github.com/tis24dev/cpanelsave/internal/orchestrator"
	"github.com/tis24dev/cpanelsave/internal/storage"
	"github.com/tis24dev/cpanelsave/internal/types"
	"github.com/tis24dev/cpanelsave/internal/version"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			exitCode = types.ExitPanicError.Int()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args, err := cli.Parse(filepath.Base(os.Args[0]), os.Args[1:], os.Stderr)
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		bootstrap.Error("Run with -help for usage.")
		return types.ExitConfigError.Int()
	}
	if args.ShowHelp {
		args.PrintHelp(os.Stdout)
		return types.ExitSuccess.Int()
	}
	if args.ShowVersion {
		cli.PrintVersion(os.Stdout)
		return types.ExitSuccess.Int()
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}
	if args.IsSet("config") {
		bootstrap.Debug("Configuration file: %s (specified via -config flag)", args.ConfigPath)
	} else {
		bootstrap.Debug("Configuration file: %s (default path, optional)", args.ConfigPath)
	}
	cfg.ApplyArgs(args)

	if cfg.Password == "" && cfg.User != "" && stdinIsTerminal() {
		password, perr := promptPassword(os.Stderr, cfg.User)
		if perr != nil {
			bootstrap.Error("ERROR: %v", perr)
			return types.ExitConfigError.Int()
		}
		cfg.Password = password
	}
	if err := cfg.Validate(); err != nil {
		bootstrap.Error("ERROR: %v", err)
		bootstrap.Error("Usage: cpanelsave [options] <host> [outdir] (run with -help for details)")
		return types.ExitConfigError.Int()
	}

	useColor := cfg.UseColor && stdoutIsTerminal()
	logger, closeLog := startRunLogger(cfg, useColor, bootstrap)
	defer closeLog()
	logger.Redact(cfg.Password, cfg.AgePassphrase, cfg.WebhookAuthToken)
	logging.SetDefaultLogger(logger)
	bootstrap.Flush(logger)

	logger.Info("cpanelsave %s", version.Full())
	logger.Debug("Host=%s user=%s https=%v cpanel_port=%d ftp_port=%d out=%s timeout=%s poll=%s",
		cfg.Host, cfg.User, cfg.HTTPS, cfg.EffectiveCPanelPort(), cfg.FTPPort,
		cfg.BackupDir, cfg.BackupTimeout, cfg.PollInterval)

	var recipients []age.Recipient
	if cfg.EncryptArchive {
		recipients, err = backup.ResolveRecipients(backup.EncryptionConfig{
			Recipients:    cfg.AgeRecipients,
			RecipientFile: cfg.AgeRecipientFile,
			Passphrase:    cfg.AgePassphrase,
		})
		if err != nil {
			logger.Error("Encryption setup failed: %v", err)
			return types.ExitConfigError.Int()
		}
		logger.Debug("Encryption enabled with %d recipient(s)", len(recipients))
	}

	gateway := ftp.NewGateway(ftp.Options{
		Host:           cfg.Host,
		Port:           cfg.FTPPort,
		User:           cfg.User,
		Password:       cfg.Password,
		Passive:        true,
		DisableEPSV:    cfg.DisableEPSV,
		TLS:            cfg.FTPTLS,
		Timeout:        cfg.FTPTimeout,
		BandwidthLimit: cfg.BandwidthLimit,
	}, logger)

	trigger := cpanel.NewClient(cpanel.Options{
		Host:     cfg.Host,
		Port:     cfg.EffectiveCPanelPort(),
		HTTPS:    cfg.HTTPS,
		Skin:     cfg.CPanelSkin,
		User:     cfg.User,
		Password: cfg.Password,
	}, logger)

	var cloud *storage.CloudStorage
	if cfg.CloudEnabled {
		cloud = storage.NewCloudStorage(cfg.CloudBucketURL, cfg.CloudPrefix, logger)
		defer func() {
			if err := cloud.Close(); err != nil {
				logger.Debug("Closing cloud bucket: %v", err)
			}
		}()
	}

	var notifiers []notify.Notifier
	if cfg.WebhookEnabled {
		webhook, werr := notify.NewWebhookNotifier(cfg.BuildWebhookConfig(), logger)
		if werr != nil {
			logger.Warning("Webhook disabled: %v", werr)
		} else {
			notifiers = append(notifiers, webhook)
		}
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Logger:     logger,
		Config:     cfg,
		Gateway:    gateway,
		Trigger:    trigger,
		Verifier:   backup.NewTarGzVerifier(logger),
		Local:      storage.NewLocalStorage(cfg.BackupDir, logger),
		Cloud:      cloud,
		Recipients: recipients,
		Notifiers:  notifiers,
		Version:    version.String(),
	})
	if err != nil {
		logger.Error("Initialization failed: %v", err)
		return types.ExitGenericError.Int()
	}

	stats, runErr := orch.Run(ctx)
	printSummary(logger, stats, runErr)

	if errors.Is(ctx.Err(), context.Canceled) && runErr != nil {
		return types.ExitInterrupted.Int()
	}
	return stats.ExitCode
}
