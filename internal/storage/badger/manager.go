package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/interfaces"
)

// Manager owns the Badger connection and the stores built on it
type Manager struct {
	db       *BadgerDB
	sessions interfaces.SessionStorage
	monitors interfaces.MonitorStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		sessions: NewSessionStorage(db, logger),
		monitors: NewMonitorStorage(db, logger),
		logger:   logger,
	}

	logger.Debug().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.sessions
}

// MonitorStorage returns the Monitor storage interface
func (m *Manager) MonitorStorage() interfaces.MonitorStorage {
	return m.monitors
}

// Close reclaims value log space and closes the database connection
func (m *Manager) Close() error {
	if err := m.db.RunGC(0.5); err != nil {
		m.logger.Warn().Err(err).Msg("Badger GC before close failed")
	}
	return m.db.Close()
}
