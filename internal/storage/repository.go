package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Repository reads and writes per-namespace server records and maintains the
// namespace index. It is the single writer for ServerRecord state; concurrent
// merges to the same namespace must be serialized by the caller.
type Repository struct {
	kv     KV
	logger *zap.Logger
}

// NewRepository creates a repository over the given store.
func NewRepository(kv KV, logger *zap.Logger) *Repository {
	return &Repository{
		kv:     kv,
		logger: logger.Named("repository"),
	}
}

// Index returns the ordered list of known namespaces.
func (r *Repository) Index() ([]string, error) {
	raw, ok, err := r.kv.Get(IndexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server index: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("failed to decode server index: %w", err)
	}
	return index, nil
}

// Load returns the record for a namespace, or nil if none is stored.
func (r *Repository) Load(namespace string) (*ServerRecord, error) {
	raw, ok, err := r.kv.Get(RecordKey(namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to load server %s: %w", namespace, err)
	}
	if !ok {
		return nil, nil
	}

	var record ServerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode server %s: %w", namespace, err)
	}
	return &record, nil
}

// LoadAll returns every indexed namespace's record. Index entries whose
// record is missing are skipped.
func (r *Repository) LoadAll() (map[string]*ServerRecord, error) {
	index, err := r.Index()
	if err != nil {
		return nil, err
	}

	result := make(map[string]*ServerRecord, len(index))
	for _, namespace := range index {
		record, err := r.Load(namespace)
		if err != nil {
			return nil, err
		}
		if record != nil {
			result[namespace] = record
		}
	}
	return result, nil
}

// Save merges the patch into the existing record for the namespace and adds
// the namespace to the index if it is new. Only fields set on the patch
// overwrite stored values; everything else is preserved.
func (r *Repository) Save(namespace string, patch *ServerRecord) error {
	merged := map[string]json.RawMessage{}

	existingRaw, ok, err := r.kv.Get(RecordKey(namespace))
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", namespace, err)
	}
	if ok {
		if err := json.Unmarshal(existingRaw, &merged); err != nil {
			return fmt.Errorf("failed to decode server %s: %w", namespace, err)
		}
	}

	clone := *patch
	clone.Namespace = namespace
	clone.UpdatedAt = time.Now()

	patchRaw, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("failed to encode server %s: %w", namespace, err)
	}
	var patchFields map[string]json.RawMessage
	if err := json.Unmarshal(patchRaw, &patchFields); err != nil {
		return fmt.Errorf("failed to decode patch for %s: %w", namespace, err)
	}
	for k, v := range patchFields {
		merged[k] = v
	}

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode server %s: %w", namespace, err)
	}
	if err := r.kv.Set(RecordKey(namespace), mergedRaw); err != nil {
		return err
	}

	if err := r.addToIndex(namespace); err != nil {
		return err
	}

	r.logger.Debug("saved server record", zap.String("namespace", namespace))
	return nil
}

// Remove deletes the record and drops the namespace from the index.
// Removing an unknown namespace is a no-op.
func (r *Repository) Remove(namespace string) error {
	if err := r.kv.Delete(RecordKey(namespace)); err != nil {
		return err
	}

	index, err := r.Index()
	if err != nil {
		return err
	}

	filtered := index[:0]
	for _, ns := range index {
		if ns != namespace {
			filtered = append(filtered, ns)
		}
	}
	if len(filtered) == len(index) {
		return nil
	}
	return r.writeIndex(filtered)
}

func (r *Repository) addToIndex(namespace string) error {
	index, err := r.Index()
	if err != nil {
		return err
	}
	for _, ns := range index {
		if ns == namespace {
			return nil
		}
	}
	return r.writeIndex(append(index, namespace))
}

func (r *Repository) writeIndex(index []string) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to encode server index: %w", err)
	}
	if err := r.kv.Set(IndexKey, raw); err != nil {
		return fmt.Errorf("failed to write server index: %w", err)
	}
	return nil
}
