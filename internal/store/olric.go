package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/olric-data/olric"
	"github.com/olric-data/olric/config"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// OlricStore implements the Store interface on the Olric distributed
// key/value store. It runs an embedded Olric server; lock rows live in one
// DMap keyed by appointment id, and conditional mutations are serialized
// through per-key mutexes in a companion DMap, since the row lock is the
// sole synchronization primitive across coordinator instances.
type OlricStore struct {
	config  *OlricConfig
	logger  *zap.Logger
	db      *olric.Olric
	client  *olric.EmbeddedClient
	locks   olric.DMap
	mutexes olric.DMap
}

// NewOlricStore creates a new Olric-backed store. It starts an embedded
// Olric server and optionally joins a cluster.
func NewOlricStore(ctx context.Context, cfg *OlricConfig, logger *zap.Logger) (*OlricStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid olric configuration: %w", err)
	}

	s := &OlricStore{
		config: cfg,
		logger: logger,
	}

	olricCfg, err := s.createOlricConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create olric config: %w", err)
	}

	logger.Info("Starting Olric embedded server",
		zap.String("bind_addr", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort)),
		zap.Bool("single_node", cfg.IsSingleNode()),
		zap.Strings("join_addrs", cfg.JoinAddrs),
		zap.Uint64("partition_count", cfg.PartitionCount),
	)

	db, err := olric.New(olricCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create olric instance: %w", err)
	}
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("failed to start olric: %w", err)
	}
	s.db = db
	s.client = db.NewEmbeddedClient()

	if err := s.waitForCluster(ctx); err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("cluster not ready: %w", err)
	}

	locks, err := s.client.NewDMap(cfg.DMapName)
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create locks dmap: %w", err)
	}
	s.locks = locks

	mutexes, err := s.client.NewDMap(cfg.DMapName + "-mutex")
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create mutex dmap: %w", err)
	}
	s.mutexes = mutexes

	logger.Info("Olric store initialized successfully",
		zap.String("dmap", cfg.DMapName),
	)

	return s, nil
}

// createOlricConfig builds the embedded server configuration.
func (s *OlricStore) createOlricConfig() (*config.Config, error) {
	logFilter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(s.config.LogLevel),
		Writer:   io.Discard,
	}
	if s.config.LogLevel == "DEBUG" || s.config.LogLevel == "INFO" {
		logFilter.Writer = os.Stdout
	}

	c := config.New("lan")
	c.BindAddr = s.config.BindAddr
	c.BindPort = s.config.BindPort
	c.KeepAlivePeriod = s.config.KeepAlivePeriod
	c.PartitionCount = s.config.PartitionCount
	c.ReplicaCount = s.config.ReplicationFactor
	c.ReadQuorum = 1
	c.WriteQuorum = 1
	c.MemberCountQuorum = int32(s.config.MemberCountQuorum)
	c.LogLevel = s.config.LogLevel
	c.Logger = log.New(logFilter, "", log.LstdFlags)
	c.JoinRetryInterval = s.config.JoinRetryInterval
	c.MaxJoinAttempts = s.config.MaxJoinAttempts

	if s.config.MemberlistBindPort != 0 {
		c.MemberlistConfig.BindPort = s.config.MemberlistBindPort
		c.MemberlistConfig.AdvertisePort = s.config.MemberlistBindPort
	}

	if s.config.ReplicationMode == "sync" {
		c.ReplicationMode = config.SyncReplicationMode
	} else {
		c.ReplicationMode = config.AsyncReplicationMode
	}

	if len(s.config.JoinAddrs) > 0 {
		c.Peers = s.config.JoinAddrs
	}

	return c, nil
}

// waitForCluster waits until the member count quorum is reached.
func (s *OlricStore) waitForCluster(ctx context.Context) error {
	if s.config.IsSingleNode() {
		s.logger.Info("Running in single-node mode, cluster ready")
		return nil
	}

	ticker := time.NewTicker(s.config.JoinRetryInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempts++

			members, err := s.client.Members(context.Background())
			memberCount := len(members)
			if err != nil {
				s.logger.Warn("Failed to get members", zap.Error(err))
				memberCount = 0
			}

			if memberCount >= s.config.MemberCountQuorum {
				s.logger.Info("Cluster member quorum reached",
					zap.Int("member_count", memberCount),
					zap.Int("quorum", s.config.MemberCountQuorum),
				)
				return nil
			}

			if attempts >= s.config.MaxJoinAttempts {
				return fmt.Errorf("max join attempts (%d) reached, only %d/%d members present",
					s.config.MaxJoinAttempts, memberCount, s.config.MemberCountQuorum)
			}
		}
	}
}

// withKeyMutex runs fn while holding the distributed per-key mutex for an
// appointment. The mutex lives in a separate DMap so the lock value itself
// is never clobbered by lock tokens.
func (s *OlricStore) withKeyMutex(ctx context.Context, appointmentID string, fn func() error) error {
	lc, err := s.mutexes.Lock(ctx, appointmentID, s.config.LockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire key mutex: %w", err)
	}
	defer func() {
		if err := lc.Unlock(ctx); err != nil {
			s.logger.Warn("Failed to release key mutex",
				zap.String("appointment_id", appointmentID),
				zap.Error(err),
			)
		}
	}()
	return fn()
}

// get reads and decodes the lock row without taking the key mutex.
func (s *OlricStore) get(ctx context.Context, appointmentID string) (*model.Lock, error) {
	resp, err := s.locks.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, olric.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	var encoded string
	if err := resp.Scan(&encoded); err != nil {
		return nil, fmt.Errorf("failed to decode lock value: %w", err)
	}

	var lock model.Lock
	if err := json.Unmarshal([]byte(encoded), &lock); err != nil {
		return nil, fmt.Errorf("failed to deserialize lock: %w", err)
	}
	return &lock, nil
}

// put encodes and writes the lock row.
func (s *OlricStore) put(ctx context.Context, lock *model.Lock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to serialize lock: %w", err)
	}
	if err := s.locks.Put(ctx, lock.AppointmentID, string(data)); err != nil {
		return fmt.Errorf("failed to store lock: %w", err)
	}
	return nil
}

// Get returns the lock row for the appointment, expired or not.
func (s *OlricStore) Get(ctx context.Context, appointmentID string) (*model.Lock, error) {
	return s.get(ctx, appointmentID)
}

// Create inserts a new lock row if and only if none exists. The NX put is
// atomic in Olric, so two racing acquisitions see exactly one winner.
func (s *OlricStore) Create(ctx context.Context, lock *model.Lock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to serialize lock: %w", err)
	}

	err = s.locks.Put(ctx, lock.AppointmentID, string(data), olric.NX())
	if err != nil {
		if errors.Is(err, olric.ErrKeyFound) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create lock: %w", err)
	}
	return nil
}

// Update replaces the row if its current version matches expectedVersion.
func (s *OlricStore) Update(ctx context.Context, lock *model.Lock, expectedVersion int64) error {
	return s.withKeyMutex(ctx, lock.AppointmentID, func() error {
		current, err := s.get(ctx, lock.AppointmentID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionMismatch
		}
		return s.put(ctx, lock)
	})
}

// Delete removes the row unconditionally. Idempotent.
func (s *OlricStore) Delete(ctx context.Context, appointmentID string) error {
	_, err := s.locks.Delete(ctx, appointmentID)
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// DeleteVersion removes the row if its current version matches
// expectedVersion.
func (s *OlricStore) DeleteVersion(ctx context.Context, appointmentID string, expectedVersion int64) error {
	return s.withKeyMutex(ctx, appointmentID, func() error {
		current, err := s.get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionMismatch
		}
		return s.Delete(ctx, appointmentID)
	})
}

// DeleteExpired removes the row if its lease has elapsed as of asOf. The
// expiry is re-checked under the key mutex at delete time, so a renewal
// racing in between scan and delete keeps its row.
func (s *OlricStore) DeleteExpired(ctx context.Context, appointmentID string, asOf time.Time) error {
	return s.withKeyMutex(ctx, appointmentID, func() error {
		current, err := s.get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !current.ExpiredAt(asOf) {
			return ErrNotExpired
		}
		return s.Delete(ctx, appointmentID)
	})
}

// Expired scans the locks DMap and returns all rows whose lease has
// elapsed as of asOf.
func (s *OlricStore) Expired(ctx context.Context, asOf time.Time) ([]*model.Lock, error) {
	it, err := s.locks.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan locks: %w", err)
	}
	defer it.Close()

	var expired []*model.Lock
	for it.Next() {
		lock, err := s.get(ctx, it.Key())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Reclaimed between scan and read.
				continue
			}
			return nil, err
		}
		if lock.ExpiredAt(asOf) {
			expired = append(expired, lock)
		}
	}
	return expired, nil
}

// Ping verifies connectivity to the embedded Olric server.
func (s *OlricStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("olric db is nil")
	}

	addr := net.JoinHostPort(s.config.BindAddr, fmt.Sprintf("%d", s.config.BindPort))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to olric: %w", err)
	}
	defer conn.Close()

	return nil
}

// Stats returns current statistics about the store.
func (s *OlricStore) Stats(ctx context.Context) (*Stats, error) {
	members, err := s.client.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	stats := &Stats{
		ClusterMembers:    len(members),
		PartitionCount:    int(s.config.PartitionCount),
		ReplicationFactor: s.config.ReplicationFactor,
	}

	it, err := s.locks.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan locks: %w", err)
	}
	defer it.Close()
	for it.Next() {
		stats.ActiveLocks++
	}

	return stats, nil
}

// Close gracefully shuts down the embedded Olric server.
func (s *OlricStore) Close(ctx context.Context) error {
	s.logger.Info("Shutting down Olric store")

	if s.db == nil {
		return nil
	}
	if err := s.db.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down Olric", zap.Error(err))
		return err
	}

	s.logger.Info("Olric store shut down successfully")
	return nil
}
