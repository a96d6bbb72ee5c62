//go:build !windows || (!amd64 && !arm64)

package main

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aegistudio/go-projfs/internal/config"
)

func run(cfg *config.Config, logger *zap.Logger) error {
	return errors.New("projected file system is only available on windows")
}
