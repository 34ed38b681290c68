package command

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lojhan/chainkv/internal/persistence"
	"github.com/lojhan/chainkv/internal/resp"
	"github.com/lojhan/chainkv/internal/store"
)

// SaveCommand writes a snapshot to path. An empty path means snapshots are
// disabled and SAVE is refused.
func SaveCommand(s *store.Store, path string, logger *zap.Logger) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) != 0 {
			return wrongArgs("save")
		}

		if path == "" {
			return resp.ErrorValue("ERR snapshots are disabled")
		}

		n, err := persistence.SaveSnapshot(path, s)
		if err != nil {
			logger.Error("SAVE failed", zap.String("path", path), zap.Error(err))
			return resp.ErrorValue(fmt.Sprintf("ERR save failed: %v", err))
		}

		logger.Info("DB saved on disk", zap.String("path", path), zap.Int("keys", n))
		return resp.OKValue()
	}
}
