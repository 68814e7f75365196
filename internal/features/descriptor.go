package features

// Family identifies a descriptor family. Descriptors from different families
// live in different metric spaces and are never compared with each other.
type Family int

const (
	// FamilyNone tags an empty set produced when every strategy failed.
	FamilyNone Family = iota
	// FamilyFloat tags SIFT-style float descriptors compared with Euclidean distance.
	FamilyFloat
	// FamilyBinary tags ORB-style bit-string descriptors compared with Hamming distance.
	FamilyBinary
)

func (f Family) String() string {
	switch f {
	case FamilyFloat:
		return "float"
	case FamilyBinary:
		return "binary"
	default:
		return "none"
	}
}

// Keypoint is an anchor location; the engine only relies on its pairing with a descriptor row.
type Keypoint struct {
	X, Y     float64
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// DescriptorSet holds one descriptor per keypoint for a single image. Exactly
// one of Float or Binary is populated, according to Family.
type DescriptorSet struct {
	Family    Family
	Keypoints []Keypoint
	Float     [][]float32
	Binary    [][]byte
}

// Len returns the number of descriptors.
func (s DescriptorSet) Len() int {
	switch s.Family {
	case FamilyFloat:
		return len(s.Float)
	case FamilyBinary:
		return len(s.Binary)
	default:
		return 0
	}
}

// Dim returns the width of the descriptor rows, or 0 for an empty set.
func (s DescriptorSet) Dim() int {
	switch {
	case s.Family == FamilyFloat && len(s.Float) > 0:
		return len(s.Float[0])
	case s.Family == FamilyBinary && len(s.Binary) > 0:
		return len(s.Binary[0])
	default:
		return 0
	}
}

// Empty reports whether the set carries no usable descriptors.
func (s DescriptorSet) Empty() bool {
	return s.Len() == 0
}

// Valid reports whether the set is non-empty, rectangular and paired 1:1 with its keypoints.
func (s DescriptorSet) Valid() bool {
	n := s.Len()
	if n == 0 || n != len(s.Keypoints) {
		return false
	}
	dim := s.Dim()
	if dim == 0 {
		return false
	}
	switch s.Family {
	case FamilyFloat:
		for _, row := range s.Float {
			if len(row) != dim {
				return false
			}
		}
	case FamilyBinary:
		for _, row := range s.Binary {
			if len(row) != dim {
				return false
			}
		}
	}
	return true
}
