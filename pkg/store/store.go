// Package store implements the file-per-entity JSON persistence layer of
// spec.md §6: one directory per entity kind under a configurable data
// root, schema-validated on read, corrupt files quarantined rather than
// dropped. Grounded on the teacher's pkg/database repository pattern
// (one typed repository per entity kind, Create/Get/List methods wrapping
// a shared client) retargeted from a Postgres connection to a directory of
// JSON files.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Store owns the data root and every entity sub-directory named in
// spec.md §6's persisted layout.
type Store struct {
	root   string
	logger *log.Logger
}

// New constructs a Store rooted at dataDir, creating every entity
// subdirectory if missing.
func New(dataDir string) (*Store, error) {
	s := &Store{root: dataDir, logger: logx.New("Store")}
	dirs := []string{
		"burns", "evidence", filepath.Join("evidence", "snapshots"),
		"effort-receipts", "disputes", "settlements", "escalations",
		"packages", "outcomes", "clarifications",
		filepath.Join("licensing", "licenses"), filepath.Join("licensing", "delegations"),
		filepath.Join("licensing", "actions"), filepath.Join("licensing", "violations"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dataDir, d), 0755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", d, err)
		}
	}
	return s, nil
}

// writeEntity marshals v as indented JSON and writes it to
// {root}/{subdir}/{id}.json.
func (s *Store) writeEntity(subdir, id string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", subdir, id, err)
	}
	path := filepath.Join(s.root, subdir, id+".json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readEntity unmarshals {root}/{subdir}/{id}.json into v. A schema
// violation quarantines the file (renamed with a .corrupt suffix) and
// returns false rather than a fatal error — the §7 IntegrityError policy
// is "log and skip", not "abort the engine".
func (s *Store) readEntity(subdir, id string, v any) bool {
	path := filepath.Join(s.root, subdir, id+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.quarantine(path, err)
		return false
	}
	return true
}

func (s *Store) quarantine(path string, cause error) {
	s.logger.Printf("quarantining corrupt file %s: %v", path, cause)
	if err := os.Rename(path, path+".corrupt"); err != nil {
		s.logger.Printf("failed to quarantine %s: %v", path, err)
	}
}

// listIDs returns the entity ids (filenames minus .json) present under
// subdir, skipping quarantined .corrupt files.
func (s *Store) listIDs(subdir string) []string {
	entries, err := os.ReadDir(filepath.Join(s.root, subdir))
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids
}

// --- Burns ---

// BurnState is the on-disk shape of burns/submissions.json +
// burns/history.json + burns/deposits.json, loaded as one unit since all
// three are small and always read together at startup.
type BurnState struct {
	Daily    []model.UserDaily  `json:"daily"`
	History  []model.BurnRecord `json:"history"`
	Deposits []model.Deposit    `json:"deposits"`
}

// SaveBurnState overwrites the burn ledger's persisted snapshot.
func (s *Store) SaveBurnState(state BurnState) error {
	if err := s.writeEntity("burns", "submissions", state.Daily); err != nil {
		return err
	}
	if err := s.writeEntity("burns", "history", state.History); err != nil {
		return err
	}
	return s.writeEntity("burns", "deposits", state.Deposits)
}

// LoadBurnState reads the burn ledger's persisted snapshot, if any.
func (s *Store) LoadBurnState() BurnState {
	var state BurnState
	s.readEntity("burns", "submissions", &state.Daily)
	s.readEntity("burns", "history", &state.History)
	s.readEntity("burns", "deposits", &state.Deposits)
	return state
}

// --- Settlements ---

// SaveSettlement persists one settlement by id.
func (s *Store) SaveSettlement(settlement model.ProposedSettlement) error {
	return s.writeEntity("settlements", settlement.ID, settlement)
}

// LoadSettlement reads a settlement by id, validating its stored hash.
func (s *Store) LoadSettlement(id string) (model.ProposedSettlement, bool) {
	var settlement model.ProposedSettlement
	if !s.readEntity("settlements", id, &settlement) {
		return model.ProposedSettlement{}, false
	}
	if err := settlement.Verify(); err != nil {
		s.quarantine(filepath.Join(s.root, "settlements", id+".json"), err)
		return model.ProposedSettlement{}, false
	}
	return settlement, true
}

// ListSettlements returns every valid, non-quarantined settlement.
func (s *Store) ListSettlements() []model.ProposedSettlement {
	var out []model.ProposedSettlement
	for _, id := range s.listIDs("settlements") {
		if settlement, ok := s.LoadSettlement(id); ok {
			out = append(out, settlement)
		}
	}
	return out
}

// --- Effort receipts ---

// SaveReceipt persists one effort receipt by id.
func (s *Store) SaveReceipt(r model.Receipt) error {
	return s.writeEntity("effort-receipts", r.ReceiptID, r)
}

// LoadReceipt reads a receipt by id, validating its stored hash.
func (s *Store) LoadReceipt(id string) (model.Receipt, bool) {
	var r model.Receipt
	if !s.readEntity("effort-receipts", id, &r) {
		return model.Receipt{}, false
	}
	if err := r.Verify(); err != nil {
		s.quarantine(filepath.Join(s.root, "effort-receipts", id+".json"), err)
		return model.Receipt{}, false
	}
	return r, true
}

// ListReceipts returns every valid, non-quarantined receipt.
func (s *Store) ListReceipts() []model.Receipt {
	var out []model.Receipt
	for _, id := range s.listIDs("effort-receipts") {
		if r, ok := s.LoadReceipt(id); ok {
			out = append(out, r)
		}
	}
	return out
}

// --- Disputes ---

// SaveDispute persists one dispute by id.
func (s *Store) SaveDispute(d model.Dispute) error {
	return s.writeEntity("disputes", d.DisputeID, d)
}

// ListDisputes returns every dispute on disk.
func (s *Store) ListDisputes() []model.Dispute {
	var out []model.Dispute
	for _, id := range s.listIDs("disputes") {
		var d model.Dispute
		if s.readEntity("disputes", id, &d) {
			out = append(out, d)
		}
	}
	return out
}

// --- Evidence / frozen items ---

// SaveFrozenItem persists one frozen item by id.
func (s *Store) SaveFrozenItem(item model.FrozenItem) error {
	return s.writeEntity("evidence", item.ItemID, item)
}

// SaveEvidenceSnapshot persists a raw snapshot blob under
// evidence/snapshots/{itemId}.json, separate from the FrozenItem record so
// large snapshots don't bloat the index file.
func (s *Store) SaveEvidenceSnapshot(itemID string, snapshot any) error {
	return s.writeEntity(filepath.Join("evidence", "snapshots"), itemID, snapshot)
}

// ListFrozenItems returns every frozen item on disk.
func (s *Store) ListFrozenItems() []model.FrozenItem {
	var out []model.FrozenItem
	for _, id := range s.listIDs("evidence") {
		var item model.FrozenItem
		if s.readEntity("evidence", id, &item) {
			out = append(out, item)
		}
	}
	return out
}

// --- Outcomes / packages / clarifications ---

// SaveResolution persists a dispute resolution by id.
func (s *Store) SaveResolution(r model.Resolution) error {
	return s.writeEntity("outcomes", r.ResolutionID, r)
}

// SavePackage persists a dispute package by id.
func (s *Store) SavePackage(p model.DisputePackage) error {
	return s.writeEntity("packages", p.PackageID, p)
}

// SaveClarification persists a clarification record by id under its own
// directory, keyed by an operator-assigned id (content is free-form JSON).
func (s *Store) SaveClarification(id string, v any) error {
	return s.writeEntity("clarifications", id, v)
}

// --- Licensing ---

// SaveLicense persists a license record by id.
func (s *Store) SaveLicense(l model.License) error {
	return s.writeEntity(filepath.Join("licensing", "licenses"), l.LicenseID, l)
}

// LoadLicense reads a license by id.
func (s *Store) LoadLicense(id string) (model.License, bool) {
	var l model.License
	ok := s.readEntity(filepath.Join("licensing", "licenses"), id, &l)
	return l, ok
}

// SaveDelegation persists a delegation record by id.
func (s *Store) SaveDelegation(d model.Delegation) error {
	return s.writeEntity(filepath.Join("licensing", "delegations"), d.DelegationID, d)
}

// LoadDelegation reads a delegation by id.
func (s *Store) LoadDelegation(id string) (model.Delegation, bool) {
	var d model.Delegation
	ok := s.readEntity(filepath.Join("licensing", "delegations"), id, &d)
	return d, ok
}

// VectorIndexSnapshotPath returns the path pkg/vectorindex should
// save/load its gob snapshot under, inside this store's data root.
func (s *Store) VectorIndexSnapshotPath() string {
	return filepath.Join(s.root, "vectorindex-snapshot.gob")
}
