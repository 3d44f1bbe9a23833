package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
)

const evidenceSubdir = "evidence"

// SaveChain persists an evidence chain, one file per chain named by chain
// id. Derived status is recomputed before the write so the stored copy can
// never disagree with the stage records.
func (s *Store) SaveChain(_ context.Context, chain *evidence.Chain) error {
	if chain == nil {
		return errors.New("chain is nil")
	}
	if err := validateID(chain.ID); err != nil {
		return fmt.Errorf("invalid chain id: %w", err)
	}
	if chain.SessionID == "" {
		return errors.New("chain session id is required")
	}
	chain.Status = evidence.ComputeStatus(chain)
	chain.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}
	art := &Artifact{
		ID:        chain.ID,
		Type:      ArtifactEvidence,
		SessionID: chain.SessionID,
		CreatedAt: chain.UpdatedAt,
		Payload:   payload,
	}
	path := filepath.Join(s.sessionDir(chain.SessionID), evidenceSubdir, chain.ID+".json")
	if err := s.commitArtifact(art, path, chain); err != nil {
		return err
	}
	s.logger.Info("saved evidence chain",
		zap.String("session_id", chain.SessionID),
		zap.String("chain_id", chain.ID),
		zap.Int("coverage", chain.Status.CoveragePercent))
	return nil
}

// GetChain loads one chain by id. Status is recomputed after load.
func (s *Store) GetChain(_ context.Context, sessionID, chainID string) (*evidence.Chain, error) {
	if err := validateID(chainID); err != nil {
		return nil, fmt.Errorf("invalid chain id: %w", err)
	}
	var chain evidence.Chain
	path := filepath.Join(s.sessionDir(sessionID), evidenceSubdir, chainID+".json")
	err := readJSONFile(path, &chain)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chain %s: %w", chainID, err)
	}
	chain.Status = evidence.ComputeStatus(&chain)
	return &chain, nil
}

// ListChains returns every chain in the session ordered by creation time.
// Malformed chain files are skipped, not fatal.
func (s *Store) ListChains(_ context.Context, sessionID string) ([]*evidence.Chain, error) {
	dir := filepath.Join(s.sessionDir(sessionID), evidenceSubdir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence directory: %w", err)
	}

	chains := make([]*evidence.Chain, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var chain evidence.Chain
		if err := readJSONFile(filepath.Join(dir, entry.Name()), &chain); err != nil {
			s.logger.Warn("skipping malformed chain record",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		if chain.ID == "" {
			s.logger.Warn("skipping chain record without an id",
				zap.String("file", entry.Name()))
			continue
		}
		chain.Status = evidence.ComputeStatus(&chain)
		chains = append(chains, &chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		if chains[i].CreatedAt.Equal(chains[j].CreatedAt) {
			return chains[i].ID < chains[j].ID
		}
		return chains[i].CreatedAt.Before(chains[j].CreatedAt)
	})
	return chains, nil
}
