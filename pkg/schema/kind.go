package schema

import (
	"fmt"
	"strings"
)

// DatasetKind identifies one of the logical datasets the pipeline knows.
// Names are resolved to a kind once, at the edge, and code dispatches on the
// kind value from then on.
type DatasetKind uint8

const (
	// KindInvalid is the zero value and never names a dataset.
	KindInvalid DatasetKind = iota
	// KindTrain is the hourly meter reading fact table.
	KindTrain
	// KindBuilding is the building metadata dimension.
	KindBuilding
	// KindWeather is the hourly weather dimension.
	KindWeather
	// KindInference is one logged prediction.
	KindInference
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindTrain:     "train",
	KindBuilding:  "building",
	KindWeather:   "weather",
	KindInference: "inference",
}

// Kinds lists every valid dataset kind.
func Kinds() []DatasetKind {
	return []DatasetKind{KindTrain, KindBuilding, KindWeather, KindInference}
}

func (k DatasetKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("DatasetKind(%d)", k)
}

// ParseDatasetKind resolves a dataset name. The ingestion file names
// "building_metadata" and "weather_train" are accepted as aliases.
func ParseDatasetKind(name string) (DatasetKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "train":
		return KindTrain, nil
	case "building", "building_metadata":
		return KindBuilding, nil
	case "weather", "weather_train":
		return KindWeather, nil
	case "inference":
		return KindInference, nil
	default:
		return KindInvalid, fmt.Errorf("unknown dataset %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k DatasetKind) MarshalText() ([]byte, error) {
	if k == KindInvalid || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("cannot marshal %s", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DatasetKind) UnmarshalText(b []byte) error {
	parsed, err := ParseDatasetKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
