// Package descriptorcache keeps candidate descriptor sets between scans so an
// unchanged corpus entry is decoded and described only once.
package descriptorcache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/features"
)

const keyVersion = "v2"

// Keyspace builds cache keys. Keys include the pipeline settings that change
// what an extractor returns, so a reconfigured deployment never reads stale sets.
type Keyspace struct {
	MaxDimension int
	MaxKeypoints int
}

// Key returns the key for entry under family. The stored path is part of the
// key; paths are unique per upload, so an id reused after a reset misses.
func (k Keyspace) Key(entry engine.Entry, family features.Family) string {
	return fmt.Sprintf("descriptors:%s:%s:%d:%d:%d:%s", keyVersion, family, k.MaxDimension, k.MaxKeypoints, entry.ID, entry.Path)
}

var errCorruptPayload = errors.New("corrupt descriptor payload")

type payload struct {
	Family    int                 `json:"family"`
	Dim       int                 `json:"dim"`
	Keypoints []features.Keypoint `json:"keypoints"`
	// Rows holds float32 rows little-endian packed, or binary rows verbatim.
	Rows [][]byte `json:"rows"`
}

func encode(set features.DescriptorSet) ([]byte, error) {
	p := payload{Family: int(set.Family), Dim: set.Dim(), Keypoints: set.Keypoints}
	switch set.Family {
	case features.FamilyFloat:
		p.Rows = make([][]byte, len(set.Float))
		for i, row := range set.Float {
			buf := make([]byte, 4*len(row))
			for j, v := range row {
				binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(v))
			}
			p.Rows[i] = buf
		}
	case features.FamilyBinary:
		p.Rows = set.Binary
	default:
		return nil, fmt.Errorf("descriptorcache: cannot encode family %s", set.Family)
	}
	return json.Marshal(p)
}

func decode(data []byte) (features.DescriptorSet, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return features.DescriptorSet{}, err
	}
	set := features.DescriptorSet{Family: features.Family(p.Family), Keypoints: p.Keypoints}
	switch set.Family {
	case features.FamilyFloat:
		set.Float = make([][]float32, len(p.Rows))
		for i, raw := range p.Rows {
			if len(raw) != 4*p.Dim {
				return features.DescriptorSet{}, errCorruptPayload
			}
			row := make([]float32, p.Dim)
			for j := range row {
				row[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*j:]))
			}
			set.Float[i] = row
		}
	case features.FamilyBinary:
		set.Binary = p.Rows
	default:
		return features.DescriptorSet{}, errCorruptPayload
	}
	if !set.Valid() {
		return features.DescriptorSet{}, errCorruptPayload
	}
	return set, nil
}

func families() []features.Family {
	return []features.Family{features.FamilyFloat, features.FamilyBinary}
}
