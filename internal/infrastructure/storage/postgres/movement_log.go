package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/lots"
)

// CompressionAlgo specifies how a movement snapshot is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the snapshot size above which zstd is used.
const DefaultCompressThreshold = 8 * 1024

// MovementRecord is one row of lot_movements.
type MovementRecord struct {
	ID                 id.ID             `db:"id" json:"id"`
	EntryID            id.ID             `db:"entry_id" json:"entryId"`
	CatalogRef         id.ID             `db:"catalog_ref" json:"catalogRef"`
	Kind               lots.MovementKind `db:"kind" json:"kind"`
	Reason             string            `db:"reason" json:"reason,omitempty"`
	Quantity           types.Quantity    `db:"quantity" json:"quantity"`
	Actor              string            `db:"actor" json:"actor,omitempty"`
	Snapshot           json.RawMessage   `db:"snapshot" json:"snapshot,omitempty"`
	SnapshotCompressed []byte            `db:"snapshot_compressed" json:"-"`
	CompressionAlgo    CompressionAlgo   `db:"compression_algo" json:"-"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
}

// MovementLog writes the lot movement audit trail.
type MovementLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var _ lots.MovementLog = (*MovementLog)(nil)

// NewMovementLog creates the movement log.
func NewMovementLog(txManager *TxManager) (*MovementLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &MovementLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
	}, nil
}

// encode builds the row for a movement, compressing large snapshots.
func (l *MovementLog) encode(m lots.Movement) (MovementRecord, error) {
	rec := MovementRecord{
		ID:              id.New(),
		EntryID:         m.EntryID,
		CatalogRef:      m.CatalogRef,
		Kind:            m.Kind,
		Reason:          m.Reason,
		Quantity:        m.Quantity,
		Actor:           m.Actor,
		CompressionAlgo: CompressionNone,
		CreatedAt:       m.At,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if m.Snapshot == nil {
		return rec, nil
	}
	raw, err := json.Marshal(m.Snapshot)
	if err != nil {
		return rec, fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(raw) > l.compressThreshold {
		rec.SnapshotCompressed = l.encoder.EncodeAll(raw, nil)
		rec.CompressionAlgo = CompressionZstd
		return rec, nil
	}
	rec.Snapshot = raw
	return rec, nil
}

// Record implements lots.MovementLog.
func (l *MovementLog) Record(ctx context.Context, m lots.Movement) error {
	rec, err := l.encode(m)
	if err != nil {
		return err
	}

	_, err = l.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO lot_movements (
			id, entry_id, catalog_ref, kind, reason, quantity, actor,
			snapshot, snapshot_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.EntryID, rec.CatalogRef, rec.Kind, rec.Reason, rec.Quantity, rec.Actor,
		rec.Snapshot, rec.SnapshotCompressed, rec.CompressionAlgo, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// History returns the newest movements of a lot with snapshots decompressed.
func (l *MovementLog) History(ctx context.Context, entryID id.ID, limit int) ([]MovementRecord, error) {
	rows, err := l.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT id, entry_id, catalog_ref, kind, reason, quantity, actor,
			   snapshot, snapshot_compressed, compression_algo, created_at
		FROM lot_movements
		WHERE entry_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, entryID, limit)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var out []MovementRecord
	for rows.Next() {
		var r MovementRecord
		err := rows.Scan(
			&r.ID, &r.EntryID, &r.CatalogRef, &r.Kind, &r.Reason, &r.Quantity, &r.Actor,
			&r.Snapshot, &r.SnapshotCompressed, &r.CompressionAlgo, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		if err := l.decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *MovementLog) decode(r *MovementRecord) error {
	if r.CompressionAlgo != CompressionZstd || len(r.SnapshotCompressed) == 0 {
		return nil
	}
	raw, err := l.decoder.DecodeAll(r.SnapshotCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	r.Snapshot = raw
	r.SnapshotCompressed = nil
	return nil
}
