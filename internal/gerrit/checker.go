package gerrit

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Checker validates the Gerrit connection before the worker starts
type Checker struct {
	source *Source
	logger *logrus.Logger
}

// NewChecker creates a new Gerrit checker
func NewChecker(source *Source, logger *logrus.Logger) *Checker {
	return &Checker{
		source: source,
		logger: logger,
	}
}

// CheckConnection logs in, asks for the server version and verifies the
// account can run queries
func (c *Checker) CheckConnection(ctx context.Context) error {
	session, err := c.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Gerrit server: %w", err)
	}
	defer session.Close()

	version, err := session.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to read Gerrit version: %w", err)
	}
	c.logger.Infof("Gerrit server version: %s", strings.TrimPrefix(version, "gerrit version "))

	if _, err := session.Query(ctx, "status:open limit:1"); err != nil {
		return fmt.Errorf("account cannot query changes: %w", err)
	}
	c.logger.Info("Query permission verified")
	return nil
}
