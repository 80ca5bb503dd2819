package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourceplane/fareflow/internal/errs"
)

// Scores are the regression metrics of one data split
type Scores struct {
	MAE  float64 `json:"MAE"`
	MSE  float64 `json:"MSE"`
	RMSE float64 `json:"RMSE"`
	R2   float64 `json:"R2"`
}

// Metrics is the document the evaluation job writes
type Metrics struct {
	TrainScore Scores `json:"train_score"`
	TestScore  Scores `json:"test_score"`
}

// DocumentValidator checks a raw metrics document before it is decoded
type DocumentValidator interface {
	ValidateMetrics(data []byte) error
}

// MetricsReader loads metrics documents from a Store
type MetricsReader struct {
	store     Store
	validator DocumentValidator
}

// NewMetricsReader creates a reader. validator may be nil.
func NewMetricsReader(store Store, validator DocumentValidator) *MetricsReader {
	return &MetricsReader{store: store, validator: validator}
}

// Read fetches and decodes the metrics at uri. An absent, partial or
// malformed document is reported as errs.ErrMetricsUnavailable.
func (r *MetricsReader) Read(ctx context.Context, uri string) (*Metrics, error) {
	if uri == "" {
		return nil, fmt.Errorf("no metrics location: %w", errs.ErrMetricsUnavailable)
	}

	data, err := r.store.Get(ctx, uri)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", errs.ErrMetricsUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	if r.validator != nil {
		if err := r.validator.ValidateMetrics(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errs.ErrMetricsUnavailable, uri, err)
		}
	}

	m, err := decodeMetrics(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrMetricsUnavailable, uri, err)
	}
	return m, nil
}

// decodeMetrics requires every metric of both splits to be present
func decodeMetrics(data []byte) (*Metrics, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	split := func(name string) (Scores, error) {
		raw, ok := doc[name]
		if !ok {
			return Scores{}, fmt.Errorf("missing %s", name)
		}
		var values map[string]float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return Scores{}, fmt.Errorf("%s: %w", name, err)
		}
		for _, key := range []string{"MAE", "MSE", "RMSE", "R2"} {
			if _, ok := values[key]; !ok {
				return Scores{}, fmt.Errorf("missing %s.%s", name, key)
			}
		}
		return Scores{MAE: values["MAE"], MSE: values["MSE"], RMSE: values["RMSE"], R2: values["R2"]}, nil
	}

	train, err := split("train_score")
	if err != nil {
		return nil, err
	}
	test, err := split("test_score")
	if err != nil {
		return nil, err
	}
	return &Metrics{TrainScore: train, TestScore: test}, nil
}
