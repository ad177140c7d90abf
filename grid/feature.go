package grid

import "fmt"

// FeatureType identifies which coordinate axis a synthetic feature channel is
// derived from.
type FeatureType int

const (
	// FeatureX broadcasts the x-axis index into a channel.
	FeatureX FeatureType = iota
	// FeatureY broadcasts the y-axis index into a channel.
	FeatureY
	// FeatureLeadtime broadcasts the lead-time index into a channel.
	FeatureLeadtime
)

// String returns the configuration name of the feature type.
func (t FeatureType) String() string {
	switch t {
	case FeatureX:
		return "x"
	case FeatureY:
		return "y"
	case FeatureLeadtime:
		return "leadtime"
	}
	return fmt.Sprintf("FeatureType(%d)", int(t))
}

// ParseFeatureType converts a configuration string into a FeatureType.
func ParseFeatureType(s string) (FeatureType, error) {
	switch s {
	case "x":
		return FeatureX, nil
	case "y":
		return FeatureY, nil
	case "leadtime":
		return FeatureLeadtime, nil
	}
	return 0, fmt.Errorf("unknown extra feature type %q", s)
}

// Feature describes one synthetic channel appended to the predictors.
type Feature struct {
	Type FeatureType
	// ChannelName overrides the predictor name of the synthetic channel.
	// Empty means the type name is used.
	ChannelName string
}

// Name returns the predictor name of the synthetic channel.
func (f Feature) Name() string {
	if f.ChannelName != "" {
		return f.ChannelName
	}
	return f.Type.String()
}
