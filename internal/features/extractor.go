package features

import (
	"sort"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/lostfound/internal/preprocess"
)

// DefaultMaxKeypoints caps the number of keypoints kept per image.
const DefaultMaxKeypoints = 500

// Strategy is a single detector/descriptor family.
type Strategy interface {
	Family() Family
	// Extract returns the strongest keypoints (at most maxKeypoints) and their descriptors.
	// A failed extraction is reported as an empty set.
	Extract(img *preprocess.Canonical, maxKeypoints int) DescriptorSet
}

// Extractor tries its strategies in order until one yields a valid set.
type Extractor struct {
	strategies   []Strategy
	maxKeypoints int
	logger       *zap.Logger
}

// NewExtractor builds an extractor over the given ordered strategies.
func NewExtractor(maxKeypoints int, logger *zap.Logger, strategies ...Strategy) *Extractor {
	if maxKeypoints <= 0 {
		maxKeypoints = DefaultMaxKeypoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{strategies: strategies, maxKeypoints: maxKeypoints, logger: logger.Named("extractor")}
}

// NewDefaultExtractor returns the SIFT-then-ORB pipeline.
func NewDefaultExtractor(maxKeypoints int, logger *zap.Logger) *Extractor {
	return NewExtractor(maxKeypoints, logger, SIFT{}, ORB{})
}

// MaxKeypoints reports the configured keypoint cap.
func (e *Extractor) MaxKeypoints() int { return e.maxKeypoints }

// Extract runs the strategies in order and returns the first valid set. The
// result has FamilyNone when every strategy came back empty.
func (e *Extractor) Extract(img *preprocess.Canonical) DescriptorSet {
	for i, s := range e.strategies {
		set := e.run(s, img)
		if set.Valid() {
			if i > 0 {
				e.logger.Debug("fell back to secondary extractor", zap.Stringer("family", s.Family()), zap.Int("keypoints", set.Len()))
			}
			return set
		}
	}
	return DescriptorSet{Family: FamilyNone}
}

// ExtractFamily runs only the strategy of the requested family so a candidate
// is described in the same metric space as the query.
func (e *Extractor) ExtractFamily(img *preprocess.Canonical, family Family) DescriptorSet {
	for _, s := range e.strategies {
		if s.Family() != family {
			continue
		}
		if set := e.run(s, img); set.Valid() {
			return set
		}
	}
	return DescriptorSet{Family: FamilyNone}
}

func (e *Extractor) run(s Strategy, img *preprocess.Canonical) DescriptorSet {
	if img == nil || img.Gray == nil || img.Width() == 0 || img.Height() == 0 {
		return DescriptorSet{Family: FamilyNone}
	}
	return s.Extract(img, e.maxKeypoints)
}

// SIFT is the primary float-descriptor strategy.
type SIFT struct{}

// Family implements Strategy.
func (SIFT) Family() Family { return FamilyFloat }

// Extract implements Strategy.
func (SIFT) Extract(img *preprocess.Canonical, maxKeypoints int) DescriptorSet {
	mat, err := toMat(img)
	if err != nil {
		return DescriptorSet{Family: FamilyNone}
	}
	defer mat.Close()

	sift := gocv.NewSIFT()
	defer sift.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := sift.DetectAndCompute(mat, mask)
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() || desc.Rows() != len(kps) || desc.Type() != gocv.MatTypeCV32F {
		return DescriptorSet{Family: FamilyNone}
	}

	rows := strongest(kps, maxKeypoints)
	set := DescriptorSet{
		Family:    FamilyFloat,
		Keypoints: make([]Keypoint, 0, len(rows)),
		Float:     make([][]float32, 0, len(rows)),
	}
	cols := desc.Cols()
	for _, r := range rows {
		vec := make([]float32, cols)
		for c := 0; c < cols; c++ {
			vec[c] = desc.GetFloatAt(r, c)
		}
		set.Keypoints = append(set.Keypoints, keypoint(kps[r]))
		set.Float = append(set.Float, vec)
	}
	return set
}

// ORB is the binary corner-based fallback strategy.
type ORB struct{}

// Family implements Strategy.
func (ORB) Family() Family { return FamilyBinary }

// Extract implements Strategy.
func (ORB) Extract(img *preprocess.Canonical, maxKeypoints int) DescriptorSet {
	mat, err := toMat(img)
	if err != nil {
		return DescriptorSet{Family: FamilyNone}
	}
	defer mat.Close()

	orb := gocv.NewORBWithParams(maxKeypoints, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := orb.DetectAndCompute(mat, mask)
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() || desc.Rows() != len(kps) || desc.Type() != gocv.MatTypeCV8U {
		return DescriptorSet{Family: FamilyNone}
	}

	rows := strongest(kps, maxKeypoints)
	set := DescriptorSet{
		Family:    FamilyBinary,
		Keypoints: make([]Keypoint, 0, len(rows)),
		Binary:    make([][]byte, 0, len(rows)),
	}
	cols := desc.Cols()
	for _, r := range rows {
		code := make([]byte, cols)
		for c := 0; c < cols; c++ {
			code[c] = desc.GetUCharAt(r, c)
		}
		set.Keypoints = append(set.Keypoints, keypoint(kps[r]))
		set.Binary = append(set.Binary, code)
	}
	return set
}

func toMat(img *preprocess.Canonical) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(img.Height(), img.Width(), gocv.MatTypeCV8UC1, img.Gray.Pix)
}

// strongest returns the row indices of the n highest-response keypoints in
// detection order, ties broken by index.
func strongest(kps []gocv.KeyPoint, n int) []int {
	idx := make([]int, len(kps))
	for i := range idx {
		idx[i] = i
	}
	if n <= 0 || n >= len(kps) {
		return idx
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return kps[idx[a]].Response > kps[idx[b]].Response
	})
	idx = idx[:n]
	sort.Ints(idx)
	return idx
}

func keypoint(kp gocv.KeyPoint) Keypoint {
	return Keypoint{X: kp.X, Y: kp.Y, Size: kp.Size, Angle: kp.Angle, Response: kp.Response, Octave: kp.Octave}
}
