package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/luacghee/D2SLAM/internal/types"
)

// InsertKeyframe durably stores desc, replacing any existing row for the
// same (drone_id, frame_id). The descriptor itself is stored as a cbor
// payload blob rather than normalized into columns: the loop detector's
// query patterns are always "the whole descriptor for this frame" or
// "every descriptor in a time range", never a per-field filter, so a
// blob avoids a wide, rarely-queried column set.
func (s *Store) InsertKeyframe(desc types.VisualImageDescArray) error {
	payload, err := cbor.Marshal(desc)
	if err != nil {
		return fmt.Errorf("sqlite: marshal keyframe: %w", err)
	}
	_, err = s.Exec(`
		INSERT INTO keyframes (drone_id, frame_id, stamp, is_keyframe, matched_frame, matched_drone, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (drone_id, frame_id) DO UPDATE SET
			stamp = excluded.stamp,
			is_keyframe = excluded.is_keyframe,
			matched_frame = excluded.matched_frame,
			matched_drone = excluded.matched_drone,
			payload = excluded.payload`,
		desc.DroneID, desc.FrameID, desc.Stamp, desc.IsKeyframe, desc.MatchedFrame, desc.MatchedDrone, payload)
	if err != nil {
		return fmt.Errorf("sqlite: insert keyframe: %w", err)
	}
	return nil
}

// GetKeyframe returns the descriptor for (droneID, frameID), or
// (zero, false, nil) if absent.
func (s *Store) GetKeyframe(droneID int, frameID int64) (types.VisualImageDescArray, bool, error) {
	var payload []byte
	err := s.QueryRow(`SELECT payload FROM keyframes WHERE drone_id = ? AND frame_id = ?`, droneID, frameID).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.VisualImageDescArray{}, false, nil
	}
	if err != nil {
		return types.VisualImageDescArray{}, false, fmt.Errorf("sqlite: get keyframe: %w", err)
	}
	var desc types.VisualImageDescArray
	if err := cbor.Unmarshal(payload, &desc); err != nil {
		return types.VisualImageDescArray{}, false, fmt.Errorf("sqlite: unmarshal keyframe: %w", err)
	}
	return desc, true, nil
}

// ListKeyframesSince returns every keyframe with stamp >= minStamp,
// oldest first, for cold-start reload of the in-memory loop database.
func (s *Store) ListKeyframesSince(minStamp float64) ([]types.VisualImageDescArray, error) {
	rows, err := s.Query(`SELECT payload FROM keyframes WHERE stamp >= ? ORDER BY stamp ASC`, minStamp)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list keyframes: %w", err)
	}
	defer rows.Close()

	var out []types.VisualImageDescArray
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan keyframe: %w", err)
		}
		var desc types.VisualImageDescArray
		if err := cbor.Unmarshal(payload, &desc); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal keyframe: %w", err)
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

// InsertLoopEdge durably stores edge, replacing any existing row with the
// same id.
func (s *Store) InsertLoopEdge(edge types.LoopEdge) error {
	payload, err := cbor.Marshal(edge)
	if err != nil {
		return fmt.Errorf("sqlite: marshal loop edge: %w", err)
	}
	_, err = s.Exec(`
		INSERT INTO loop_edges (id, frame_a, drone_a, frame_b, drone_b, inliers, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			inliers = excluded.inliers,
			payload = excluded.payload`,
		edge.ID, edge.FrameA, edge.DroneA, edge.FrameB, edge.DroneB, edge.Inliers, payload)
	if err != nil {
		return fmt.Errorf("sqlite: insert loop edge: %w", err)
	}
	return nil
}

// ListLoopEdgesForDrone returns every loop edge touching droneID, newest
// insertion last.
func (s *Store) ListLoopEdgesForDrone(droneID int) ([]types.LoopEdge, error) {
	rows, err := s.Query(`
		SELECT payload FROM loop_edges
		WHERE drone_a = ? OR drone_b = ?
		ORDER BY rowid ASC`, droneID, droneID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list loop edges: %w", err)
	}
	defer rows.Close()

	var out []types.LoopEdge
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan loop edge: %w", err)
		}
		var edge types.LoopEdge
		if err := cbor.Unmarshal(payload, &edge); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal loop edge: %w", err)
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}
