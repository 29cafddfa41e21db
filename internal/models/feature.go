package models

// FeatureSnapshot carries the feature values the evaluator observed when it
// produced a signal. Consumers read features through Get so that a name the
// producer never set still resolves to a well-defined default instead of a
// missing key.
type FeatureSnapshot struct {
	Values map[string]float64 `json:"values"`
}

// Feature names shared between the evaluator boundary and the sizer.
const (
	FeatureATRPct     = "atr_pct"         // 平均真实波幅 / 收盘价
	FeatureStructure  = "structure_score" // 市场结构强度 [0,1]
	FeatureLiquidity  = "liquidity_score" // 盘口流动性评分 [0,1]
	FeatureMomentum   = "momentum"        // 动量评分 [-1,1]
	FeatureVolumeBias = "volume_bias"     // 成交量偏向 [-1,1]
)

// featureDefaults is the fallback table for names absent from a snapshot.
var featureDefaults = map[string]float64{
	FeatureATRPct:     0.01,
	FeatureStructure:  0.5,
	FeatureLiquidity:  0.5,
	FeatureMomentum:   0,
	FeatureVolumeBias: 0,
}

// NewFeatureSnapshot copies the given values into a snapshot. The copy keeps
// the snapshot immutable from the producer's point of view.
func NewFeatureSnapshot(values map[string]float64) FeatureSnapshot {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return FeatureSnapshot{Values: copied}
}

// Get returns the feature value, falling back to the default table and then
// to zero for names with no registered default.
func (f FeatureSnapshot) Get(name string) float64 {
	if f.Values != nil {
		if v, ok := f.Values[name]; ok {
			return v
		}
	}
	return featureDefaults[name]
}

// Has reports whether the producer actually set the feature.
func (f FeatureSnapshot) Has(name string) bool {
	if f.Values == nil {
		return false
	}
	_, ok := f.Values[name]
	return ok
}
