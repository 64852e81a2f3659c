package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/okian/voxmeter/internal/adapters/repository"
	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/config"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
)

// operator is the caller every voxctl command acts as.
var operator = model.IdentityContext{Key: "user:voxctl", Class: model.ClassAdmin}

type commandContext struct {
	dataDirFlag  *string
	logLevelFlag *string
}

func newCommandContext(dataDirFlag, logLevelFlag *string) *commandContext {
	return &commandContext{dataDirFlag: dataDirFlag, logLevelFlag: logLevelFlag}
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.dataDirFlag != nil && strings.TrimSpace(*c.dataDirFlag) != "" {
		cfg.DataDir = strings.TrimSpace(*c.dataDirFlag)
	}
	if cfg.StoreBackend == config.BackendMemory {
		return nil, errors.New("voxctl needs store_backend=sqlite; a memory store has nothing to administer")
	}
	return cfg, nil
}

// withService opens the store, builds a service over it and runs fn.
func (c *commandContext) withService(ctx context.Context, fn func(*service.Service) error) error {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		return err
	}
	if c.logLevelFlag != nil {
		if err := logger.SetLevelString(*c.logLevelFlag); err != nil {
			return err
		}
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	store, err := service.OpenStore(ctx, cfg, "")
	if err != nil {
		if errors.Is(err, repository.ErrLocked) {
			return fmt.Errorf("%w; stop the daemon before running voxctl", err)
		}
		return err
	}
	defer func() { _ = store.Close() }()

	opts, err := service.ConfigOptions(cfg)
	if err != nil {
		return err
	}
	svc := service.New(append(opts, service.WithStore(store))...)
	return fn(svc)
}
