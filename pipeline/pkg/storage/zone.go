package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

const (
	partFile    = "part-00000.json"
	partPrefix  = "part-"
	partSuffix  = ".json"
	rawFile     = "records.json"
	auditFile   = "_audit.json"
	snapshotKey = "snapshot="
)

// SnapshotID shortens a snapshot token to a stable, key-safe identifier.
func SnapshotID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Location is the key prefix holding one snapshot of a table in a zone, e.g.
// "curated/dim_customer/snapshot=4f1c...".
func Location(zone dataset.Zone, name, token string) string {
	return path.Join(string(zone), name, snapshotKey+SnapshotID(token))
}

// PartitionSpec describes how a location is laid out.
func PartitionSpec(t *dataset.Table) []string {
	if t.PartitionColumn == "" {
		return []string{}
	}
	return []string{t.PartitionColumn}
}

// WriteRaw stores a batch exactly as received.
func WriteRaw(ctx context.Context, store ObjectStore, location string, records []dataset.RawRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode raw batch: %w", err)
	}
	if err := store.Put(ctx, path.Join(location, rawFile), data); err != nil {
		return fmt.Errorf("failed to write raw batch: %w", err)
	}
	return nil
}

// ReadRaw loads a batch written by WriteRaw.
func ReadRaw(ctx context.Context, store ObjectStore, location string) ([]dataset.RawRecord, error) {
	data, err := store.Get(ctx, path.Join(location, rawFile))
	if err != nil {
		return nil, err
	}
	var records []dataset.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode raw batch: %w", err)
	}
	return records, nil
}

// WriteTable writes a table under location, one part per partition value, e.g.
// "<location>/order_purchase_date=2018-01-02/part-00000.json". Any objects already under the
// location are removed first so the write is a full overwrite.
func WriteTable(ctx context.Context, store ObjectStore, location string, t *dataset.Table) error {
	if err := store.DeletePrefix(ctx, location+"/"); err != nil {
		return fmt.Errorf("failed to clear %s: %w", location, err)
	}
	parts, err := dataset.Partition(t)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		// An empty partitioned table still needs a part carrying its schema.
		parts = []dataset.Part{{Table: t}}
	}
	for _, p := range parts {
		data, err := dataset.Encode(p.Table)
		if err != nil {
			return err
		}
		key := path.Join(location, partFile)
		if p.Value != "" {
			key = path.Join(location, t.PartitionColumn+"="+p.Value, partFile)
		}
		if err := store.Put(ctx, key, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

// ReadTable loads every part under location and merges them in ordinal order.
func ReadTable(ctx context.Context, store ObjectStore, location string) (*dataset.Table, error) {
	keys, err := store.List(ctx, location+"/")
	if err != nil {
		return nil, err
	}
	var parts []*dataset.Table
	for _, k := range keys {
		base := path.Base(k)
		if !strings.HasPrefix(base, partPrefix) || !strings.HasSuffix(base, partSuffix) {
			continue
		}
		data, err := store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		t, err := dataset.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		return nil, ErrNotFound
	}
	return dataset.Merge(parts)
}

// WriteAudit stores audit entries next to the table parts of a location. Call it after
// WriteTable, which clears the location.
func WriteAudit(ctx context.Context, store ObjectStore, location string, entries any) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode audit: %w", err)
	}
	if err := store.Put(ctx, path.Join(location, auditFile), data); err != nil {
		return fmt.Errorf("failed to write audit: %w", err)
	}
	return nil
}

// ReadAudit decodes the audit stored at location into out.
func ReadAudit(ctx context.Context, store ObjectStore, location string, out any) error {
	data, err := store.Get(ctx, path.Join(location, auditFile))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode audit: %w", err)
	}
	return nil
}
